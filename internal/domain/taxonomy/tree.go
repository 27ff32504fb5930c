package taxonomy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Tree is an immutable, validated ICD-10 hierarchy. It is safe for concurrent
// read access from any number of goroutines.
type Tree struct {
	root     *Node
	nodes    []*Node // canonical pre-order
	byID     map[string]*Node
	byCode   map[string]*Node
	source   string
	version  string
	maxDepth int
	keywords int
}

// Build validates rows and links them into a tree. Children keep the order in
// which their rows appear. Any structural problem is reported as *LoadError.
func Build(rows []Row) (*Tree, error) {
	if len(rows) == 0 {
		return nil, loadErrorf(KindEmpty, "no rows")
	}

	seenCode := make(map[string]int, len(rows))
	for i, r := range rows {
		code := strings.TrimSpace(r.Code)
		if code == "" {
			continue
		}
		if prev, ok := seenCode[code]; ok {
			return nil, loadErrorf(KindDuplicateCode, "code %q appears on rows %d and %d", code, prev+1, i+1)
		}
		seenCode[code] = i
	}

	byID := make(map[string]*Node, len(rows))
	parentOf := make(map[*Node]string, len(rows))
	ordered := make([]*Node, 0, len(rows))
	var roots []*Node

	for i, r := range rows {
		r = cleanRow(r)
		key := r.key()
		if key == "" {
			return nil, loadErrorf(KindInvalidRow, "row %d has neither id nor code", i+1)
		}
		if _, dup := byID[key]; dup {
			return nil, loadErrorf(KindDuplicateID, "id %q appears more than once", key)
		}
		if r.Parent == key {
			return nil, loadErrorf(KindCycle, "node %q is its own parent", key)
		}
		n := &Node{
			ID:          key,
			Code:        r.Code,
			Description: r.Description,
			Keywords:    r.Keywords,
		}
		byID[key] = n
		ordered = append(ordered, n)
		if r.Parent == "" {
			roots = append(roots, n)
		} else {
			parentOf[n] = r.Parent
		}
	}

	switch {
	case len(roots) == 0:
		return nil, loadErrorf(KindMissingRoot, "every row names a parent")
	case len(roots) > 1:
		return nil, loadErrorf(KindMultipleRoots, "found %d roots (%s, %s, ...)", len(roots), roots[0].ID, roots[1].ID)
	}

	for _, n := range ordered {
		pid, ok := parentOf[n]
		if !ok {
			continue
		}
		p, exists := byID[pid]
		if !exists {
			return nil, loadErrorf(KindUnknownParent, "node %q references unknown parent %q", n.ID, pid)
		}
		n.Parent = p
		p.Children = append(p.Children, n)
	}

	t := &Tree{
		root:   roots[0],
		byID:   byID,
		byCode: make(map[string]*Node, len(seenCode)),
	}

	// Pre-order walk from the root assigns depth and canonical order. Nodes the
	// walk never reaches hang off a parent chain that loops back on itself.
	stack := []*Node{t.root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Parent != nil {
			n.Depth = n.Parent.Depth + 1
		}
		n.order = len(t.nodes)
		t.nodes = append(t.nodes, n)
		if n.Depth > t.maxDepth {
			t.maxDepth = n.Depth
		}
		t.keywords += len(n.Keywords)
		if n.Code != "" {
			t.byCode[n.Code] = n
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}

	if len(t.nodes) != len(ordered) {
		for _, n := range ordered {
			if !t.reached(n) {
				return nil, loadErrorf(KindCycle, "node %q is not reachable from root %q: %s", n.ID, t.root.ID, describeChain(n))
			}
		}
	}

	t.version = computeVersion(t.nodes)
	return t, nil
}

func (t *Tree) reached(n *Node) bool {
	return n.order < len(t.nodes) && t.nodes[n.order] == n
}

// describeChain renders the parent chain of n until it repeats.
func describeChain(n *Node) string {
	seen := map[*Node]bool{}
	var parts []string
	for cur := n; cur != nil && !seen[cur]; cur = cur.Parent {
		seen[cur] = true
		parts = append(parts, cur.ID)
	}
	return strings.Join(parts, " -> ")
}

func cleanRow(r Row) Row {
	r.ID = strings.TrimSpace(r.ID)
	r.Code = strings.TrimSpace(r.Code)
	r.Parent = strings.TrimSpace(r.Parent)
	r.Description = strings.TrimSpace(r.Description)

	seen := make(map[string]bool, len(r.Keywords))
	kws := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[strings.ToLower(kw)] {
			continue
		}
		seen[strings.ToLower(kw)] = true
		kws = append(kws, kw)
	}
	r.Keywords = kws
	return r
}

func computeVersion(nodes []*Node) string {
	h := sha256.New()
	for _, n := range nodes {
		parent := ""
		if n.Parent != nil {
			parent = n.Parent.ID
		}
		fmt.Fprintf(h, "%s\x1f%s\x1f%s\x1f%s\x1f%s\x1e", n.ID, n.Code, n.Description, parent, strings.Join(n.Keywords, "\x1d"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Root returns the single root node.
func (t *Tree) Root() *Node { return t.root }

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int { return len(t.nodes) }

// Version identifies the taxonomy content. Trees built from identical rows
// share a version.
func (t *Tree) Version() string { return t.version }

// Source names where the tree was loaded from; empty for trees built directly
// from rows.
func (t *Tree) Source() string { return t.source }

// Nodes returns all nodes in canonical pre-order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Terminals returns the nodes carrying an assignable code, in pre-order.
func (t *Tree) Terminals() []*Node {
	out := make([]*Node, 0, len(t.byCode))
	for _, n := range t.nodes {
		if n.IsTerminal() {
			out = append(out, n)
		}
	}
	return out
}

// ChildrenOf returns a copy of n's ordered children.
func (t *Tree) ChildrenOf(n *Node) []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, len(n.Children))
	copy(out, n.Children)
	return out
}

// AncestorsOf returns n's ancestors, nearest first, ending with the root.
func (t *Tree) AncestorsOf(n *Node) []*Node {
	if n == nil {
		return nil
	}
	out := make([]*Node, 0, n.Depth)
	for p := n.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}

// IsAncestor reports whether a is a proper ancestor of d.
func (t *Tree) IsAncestor(a, d *Node) bool {
	if a == nil || d == nil || a.Depth >= d.Depth {
		return false
	}
	for p := d.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
		if p.Depth <= a.Depth {
			return false
		}
	}
	return false
}

// NodeByCode returns the terminal node with the given code.
func (t *Tree) NodeByCode(code string) (*Node, error) {
	n, ok := t.byCode[strings.TrimSpace(code)]
	if !ok {
		return nil, fmt.Errorf("code %q: %w", code, ErrNotFound)
	}
	return n, nil
}

// NodeByID returns the node with the given ID.
func (t *Tree) NodeByID(id string) (*Node, error) {
	n, ok := t.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return n, nil
}

// Resolve looks a reference up by code first, then by ID.
func (t *Tree) Resolve(ref string) (*Node, error) {
	if n, err := t.NodeByCode(ref); err == nil {
		return n, nil
	}
	return t.NodeByID(ref)
}

// Rows flattens the tree back to rows in canonical pre-order.
func (t *Tree) Rows() []Row {
	rows := make([]Row, 0, len(t.nodes))
	for _, n := range t.nodes {
		r := Row{ID: n.ID, Code: n.Code, Description: n.Description, Keywords: n.Keywords}
		if n.Parent != nil {
			r.Parent = n.Parent.ID
		}
		rows = append(rows, r)
	}
	return rows
}

// Stats summarises the tree.
func (t *Tree) Stats() Stats {
	return Stats{
		Nodes:     len(t.nodes),
		Terminals: len(t.byCode),
		Keywords:  t.keywords,
		MaxDepth:  t.maxDepth,
		Version:   t.version,
	}
}
