package taxonomy

import (
	"context"
	"errors"
	"testing"
)

func sampleRows() []Row {
	return []Row{
		{ID: "root", Description: "ICD-10-CM"},
		{ID: "IV", Description: "Endocrine, nutritional and metabolic diseases", Parent: "root"},
		{Code: "E11", Description: "Type 2 diabetes mellitus", Parent: "IV", Keywords: []string{"type 2 diabetes mellitus"}},
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications", Parent: "E11", Keywords: []string{"type 2 diabetes", " Type 2 Diabetes ", ""}},
		{Code: "E11.65", Description: "Type 2 diabetes mellitus with hyperglycemia", Parent: "E11"},
		{ID: "X", Description: "Diseases of the respiratory system", Parent: "root"},
		{Code: "J45", Description: "Asthma", Parent: "X", Keywords: []string{"asthma"}},
		{Code: "J45.0", Description: "Predominantly allergic asthma", Parent: "J45"},
	}
}

func mustBuild(t *testing.T, rows []Row) *Tree {
	t.Helper()
	tree, err := Build(rows)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return tree
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected LoadError(%s), got nil", kind)
	}
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
	if le.Kind != kind {
		t.Errorf("expected kind %s, got %s (%v)", kind, le.Kind, err)
	}
}

func TestBuild_Structure(t *testing.T) {
	tree := mustBuild(t, sampleRows())

	if tree.Root().ID != "root" {
		t.Errorf("expected root id root, got %s", tree.Root().ID)
	}
	if tree.Len() != 8 {
		t.Errorf("expected 8 nodes, got %d", tree.Len())
	}

	n, err := tree.NodeByCode("E11.9")
	if err != nil {
		t.Fatalf("NodeByCode() error: %v", err)
	}
	if n.Depth != 3 {
		t.Errorf("expected depth 3 for E11.9, got %d", n.Depth)
	}
	if n.ID != "E11.9" {
		t.Errorf("expected id to default to code, got %q", n.ID)
	}
	if len(n.Keywords) != 1 || n.Keywords[0] != "type 2 diabetes" {
		t.Errorf("expected keywords trimmed and deduplicated, got %q", n.Keywords)
	}

	for _, node := range tree.Nodes() {
		if node.Parent != nil && node.Depth != node.Parent.Depth+1 {
			t.Errorf("node %s depth %d, parent depth %d", node.ID, node.Depth, node.Parent.Depth)
		}
	}
}

func TestBuild_ChildrenKeepSourceOrder(t *testing.T) {
	tree := mustBuild(t, sampleRows())
	e11, _ := tree.NodeByCode("E11")

	children := tree.ChildrenOf(e11)
	if len(children) != 2 || children[0].Code != "E11.9" || children[1].Code != "E11.65" {
		t.Fatalf("unexpected children order: %v", codes(children))
	}

	children[0] = nil
	if tree.ChildrenOf(e11)[0] == nil {
		t.Error("ChildrenOf must return a copy")
	}
}

func TestBuild_PreOrder(t *testing.T) {
	tree := mustBuild(t, sampleRows())
	var ids []string
	for i, n := range tree.Nodes() {
		if n.Order() != i {
			t.Errorf("node %s order %d, position %d", n.ID, n.Order(), i)
		}
		ids = append(ids, n.ID)
	}
	want := []string{"root", "IV", "E11", "E11.9", "E11.65", "X", "J45", "J45.0"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("pre-order = %v, want %v", ids, want)
		}
	}
}

func TestTree_Ancestry(t *testing.T) {
	tree := mustBuild(t, sampleRows())
	e119, _ := tree.NodeByCode("E11.9")
	e11, _ := tree.NodeByCode("E11")
	j45, _ := tree.NodeByCode("J45")

	anc := tree.AncestorsOf(e119)
	if len(anc) != 3 || anc[0] != e11 || anc[2] != tree.Root() {
		t.Errorf("unexpected ancestors: %v", ids(anc))
	}
	if len(tree.AncestorsOf(tree.Root())) != 0 {
		t.Error("root must have no ancestors")
	}

	if !tree.IsAncestor(e11, e119) {
		t.Error("E11 should be an ancestor of E11.9")
	}
	if tree.IsAncestor(e119, e11) {
		t.Error("E11.9 must not be an ancestor of E11")
	}
	if tree.IsAncestor(e11, e11) {
		t.Error("a node is not its own proper ancestor")
	}
	if tree.IsAncestor(j45, e119) {
		t.Error("J45 is unrelated to E11.9")
	}
	if !tree.IsAncestor(tree.Root(), j45) {
		t.Error("root is an ancestor of every other node")
	}
}

func TestTree_Lookups(t *testing.T) {
	tree := mustBuild(t, sampleRows())

	if _, err := tree.NodeByCode("Z99"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := tree.NodeByCode("IV"); !errors.Is(err, ErrNotFound) {
		t.Error("structural nodes have no code")
	}
	n, err := tree.Resolve("IV")
	if err != nil || n.ID != "IV" {
		t.Errorf("Resolve(IV) = %v, %v", n, err)
	}
	if n.IsTerminal() {
		t.Error("structural node reported as terminal")
	}

	terms := tree.Terminals()
	if len(terms) != 5 {
		t.Errorf("expected 5 terminals, got %d", len(terms))
	}
	for _, term := range terms {
		if term.Code == "" {
			t.Errorf("terminal %s has no code", term.ID)
		}
	}
}

func TestTree_StatsAndVersion(t *testing.T) {
	a := mustBuild(t, sampleRows())
	b := mustBuild(t, sampleRows())

	s := a.Stats()
	if s.Nodes != 8 || s.Terminals != 5 || s.MaxDepth != 3 || s.Keywords != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if len(s.Version) != 16 {
		t.Errorf("expected 16-char version, got %q", s.Version)
	}
	if a.Version() != b.Version() {
		t.Error("identical rows must produce identical versions")
	}

	rows := sampleRows()
	rows[3].Description = "changed"
	if mustBuild(t, rows).Version() == a.Version() {
		t.Error("changed content must change the version")
	}

	again := mustBuild(t, a.Rows())
	if again.Version() != a.Version() {
		t.Error("rebuilding from Rows() must keep the version")
	}
}

func TestBuild_DuplicateTerminalCode(t *testing.T) {
	rows := sampleRows()
	rows = append(rows, Row{Code: "J45.0", Description: "Allergic asthma (duplicate)", Parent: "J45"})

	src := &staticSource{name: "dup.csv", rows: rows}
	tree, err := Load(context.Background(), src)
	if tree != nil {
		t.Fatal("no tree may be returned for a malformed source")
	}
	expectKind(t, err, KindDuplicateCode)

	var le *LoadError
	errors.As(err, &le)
	if le.Source != "dup.csv" {
		t.Errorf("expected source dup.csv, got %q", le.Source)
	}
}

func TestBuild_Malformed(t *testing.T) {
	tests := []struct {
		name string
		rows []Row
		kind Kind
	}{
		{"empty", nil, KindEmpty},
		{"missing root", []Row{
			{ID: "a", Description: "A", Parent: "b"},
			{ID: "b", Description: "B", Parent: "a"},
		}, KindMissingRoot},
		{"multiple roots", []Row{
			{ID: "a", Description: "A"},
			{ID: "b", Description: "B"},
		}, KindMultipleRoots},
		{"unknown parent", []Row{
			{ID: "root", Description: "R"},
			{Code: "A01", Description: "A", Parent: "nowhere"},
		}, KindUnknownParent},
		{"cycle below root", []Row{
			{ID: "root", Description: "R"},
			{ID: "a", Description: "A", Parent: "b"},
			{ID: "b", Description: "B", Parent: "a"},
		}, KindCycle},
		{"self parent", []Row{
			{ID: "root", Description: "R"},
			{ID: "a", Description: "A", Parent: "a"},
		}, KindCycle},
		{"duplicate id", []Row{
			{ID: "root", Description: "R"},
			{ID: "a", Code: "A01", Description: "A", Parent: "root"},
			{ID: "a", Code: "A02", Description: "A again", Parent: "root"},
		}, KindDuplicateID},
		{"row without key", []Row{
			{ID: "root", Description: "R"},
			{Description: "orphan", Parent: "root"},
		}, KindInvalidRow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.rows)
			expectKind(t, err, tt.kind)
		})
	}
}

func TestSubsumption(t *testing.T) {
	tree := mustBuild(t, sampleRows())
	tests := []struct {
		a, b string
		want Relation
	}{
		{"E11", "E11.9", Subsumes},
		{"E11.9", "E11", SubsumedBy},
		{"E11.9", "E11.9", Equivalent},
		{"E11.9", "J45", NotSubsumed},
		{"IV", "E11.65", Subsumes},
	}
	for _, tt := range tests {
		got, err := tree.Subsumption(tt.a, tt.b)
		if err != nil {
			t.Fatalf("Subsumption(%s, %s) error: %v", tt.a, tt.b, err)
		}
		if got != tt.want {
			t.Errorf("Subsumption(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
	if _, err := tree.Subsumption("E11", "Q00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type staticSource struct {
	name string
	rows []Row
	err  error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Rows(context.Context) ([]Row, error) { return s.rows, s.err }

func codes(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Code)
	}
	return out
}

func ids(nodes []*Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
