package lexicon

import (
	"reflect"
	"testing"

	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/domain/textnorm"
)

func sampleTree(t *testing.T) *taxonomy.Tree {
	t.Helper()
	tree, err := taxonomy.Build([]taxonomy.Row{
		{ID: "root", Description: "ICD-10-CM"},
		{ID: "IV", Description: "Endocrine, nutritional and metabolic diseases", Parent: "root"},
		{Code: "E11", Description: "Type 2 diabetes mellitus", Parent: "IV", Keywords: []string{"type 2 diabetes mellitus"}},
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications", Parent: "E11",
			Keywords: []string{"type 2 diabetes", "diabetes type 2"}},
		{Code: "E11.65", Description: "Type 2 diabetes mellitus with hyperglycemia", Parent: "E11",
			Keywords: []string{"type 2 diabetes mellitus with hyperglycemia"}},
		{ID: "X", Description: "Diseases of the respiratory system", Parent: "root"},
		{Code: "J45", Description: "Asthma", Parent: "X", Keywords: []string{"asthma"}},
		{Code: "J45.0", Description: "Predominantly allergic asthma", Parent: "J45"},
	})
	if err != nil {
		t.Fatalf("taxonomy.Build() error: %v", err)
	}
	return tree
}

func nodeCodes(nodes []*taxonomy.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Code)
	}
	return out
}

func TestBuild_WholeAndChunkedPostings(t *testing.T) {
	norm := textnorm.Default()
	idx, err := Build(sampleTree(t), norm, 4, WithDescriptions(false))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	whole := idx.Lookup(norm.Phrase("type 2 diabetes"))
	if len(whole) != 1 || whole[0].Node.Code != "E11.9" || !whole[0].Whole() {
		t.Fatalf("expected one whole posting for E11.9, got %+v", whole)
	}
	if whole[0].Length != 3 {
		t.Errorf("expected posting length 3, got %d", whole[0].Length)
	}

	long := norm.Terms("type 2 diabetes mellitus with hyperglycemia")
	if len(long) <= 4 {
		t.Fatalf("expected a keyword longer than the phrase length, got %q", long)
	}
	first := idx.Lookup(norm.Phrase("type 2 diabetes mellitus"))
	if len(first) != 2 {
		t.Fatalf("expected 2 postings for the first chunk, got %d", len(first))
	}
	if first[0].Node.Code != "E11" || !first[0].Whole() {
		t.Errorf("expected whole E11 posting first, got %+v", first[0])
	}
	part := first[1]
	if part.Node.Code != "E11.65" || part.Part != 0 || part.Parts != 2 || part.Length != len(long) {
		t.Errorf("unexpected partial posting %+v", part)
	}
	if len(part.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %q", part.Chunks)
	}
	tail := idx.Lookup(part.Chunks[1])
	if len(tail) != 1 || tail[0].Part != 1 || tail[0].Node.Code != "E11.65" {
		t.Errorf("expected tail chunk posting for E11.65, got %+v", tail)
	}

	total, chunked := idx.Keywords()
	if total != 5 || chunked != 1 {
		t.Errorf("expected 5 keywords with 1 chunked, got %d/%d", total, chunked)
	}
}

func TestLookupNodes(t *testing.T) {
	norm := textnorm.Default()
	idx, err := Build(sampleTree(t), norm, 4, WithDescriptions(false))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tests := []struct {
		name   string
		phrase string
		want   []string
	}{
		{"whole keyword", norm.Phrase("diabetes type 2"), []string{"E11.9"}},
		{"partial chunk only matches whole postings", norm.Phrase("type 2 diabetes mellitus"), []string{"E11"}},
		{"reassembled long keyword", norm.Phrase("type 2 diabetes mellitus with hyperglycemia"), []string{"E11.65"}},
		{"absent", norm.Phrase("migraine"), []string{}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nodeCodes(idx.LookupNodes(tt.phrase))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LookupNodes(%q) = %v, want %v", tt.phrase, got, tt.want)
			}
		})
	}

	if got := idx.Lookup("no such phrase"); len(got) != 0 {
		t.Errorf("expected no postings, got %+v", got)
	}
}

func TestBuild_Descriptions(t *testing.T) {
	tree := sampleTree(t)

	with, err := Build(tree, textnorm.Default(), 4)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := nodeCodes(with.Search("Predominantly allergic asthma")); !reflect.DeepEqual(got, []string{"J45.0"}) {
		t.Errorf("expected description match for J45.0, got %v", got)
	}

	without, err := Build(tree, textnorm.Default(), 4, WithDescriptions(false))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := without.Search("Predominantly allergic asthma"); len(got) != 0 {
		t.Errorf("expected no description postings, got %v", nodeCodes(got))
	}
	if with.Len() <= without.Len() {
		t.Errorf("expected descriptions to add phrases: %d <= %d", with.Len(), without.Len())
	}
}

func TestBuild_Deterministic(t *testing.T) {
	tree := sampleTree(t)
	a, err := Build(tree, textnorm.Default(), 3)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	b, err := Build(tree, textnorm.Default(), 3)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if !reflect.DeepEqual(a.Phrases(), b.Phrases()) {
		t.Fatal("phrase sets differ between builds")
	}
	for _, p := range a.Phrases() {
		pa, pb := a.Lookup(p), b.Lookup(p)
		if len(pa) != len(pb) {
			t.Fatalf("posting count differs for %q", p)
		}
		for i := range pa {
			if pa[i].Node != pb[i].Node || pa[i].Part != pb[i].Part || pa[i].Keyword != pb[i].Keyword {
				t.Errorf("posting %d differs for %q", i, p)
			}
			if i > 0 && pa[i-1].Node.Order() > pa[i].Node.Order() {
				t.Errorf("postings for %q not in canonical order", p)
			}
		}
	}
}

func TestBuild_PhraseLength(t *testing.T) {
	tree := sampleTree(t)
	for _, n := range []int{-1, MaxPhraseLimit + 1} {
		if _, err := Build(tree, textnorm.Default(), n); err == nil {
			t.Errorf("expected error for max phrase length %d", n)
		}
	}

	idx, err := Build(tree, textnorm.Default(), 0)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if idx.MaxPhraseLength() != DefaultMaxPhraseLength {
		t.Errorf("expected default phrase length, got %d", idx.MaxPhraseLength())
	}

	short, err := Build(tree, textnorm.Default(), 1, WithDescriptions(false))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	for _, p := range short.Phrases() {
		for _, posting := range short.Lookup(p) {
			if posting.Length > 1 && posting.Whole() {
				t.Errorf("phrase %q stored whole beyond the phrase length", p)
			}
		}
	}
}

func TestBuild_StopWordsShapeIndex(t *testing.T) {
	tree := sampleTree(t)
	norm := textnorm.New([]string{"type"})
	idx, err := Build(tree, norm, 4, WithDescriptions(false))
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if got := nodeCodes(idx.LookupNodes("2 diabet")); len(got) != 1 || got[0] != "E11.9" {
		t.Errorf("expected stop-worded keyword to index as %q, got %v", "2 diabet", got)
	}
	if idx.Normalizer() != norm {
		t.Error("expected index to keep its normalizer")
	}
}

func TestChunk(t *testing.T) {
	got := chunk([]string{"a", "b", "c", "d", "e"}, 2)
	want := []string{"a b", "c d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("chunk() = %q, want %q", got, want)
	}
}
