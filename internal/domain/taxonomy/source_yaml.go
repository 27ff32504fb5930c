package taxonomy

import (
	"gopkg.in/yaml.v3"
)

// document is the YAML/JSON taxonomy layout. A document holds either a nested
// tree under "root" or a flat list under "rows".
type document struct {
	Name string     `yaml:"name,omitempty"`
	Root *treeEntry `yaml:"root,omitempty"`
	Rows []Row      `yaml:"rows,omitempty"`
}

type treeEntry struct {
	ID          string       `yaml:"id,omitempty"`
	Code        string       `yaml:"code,omitempty"`
	Description string       `yaml:"description"`
	Keywords    []string     `yaml:"keywords,omitempty"`
	Children    []*treeEntry `yaml:"children,omitempty"`
}

// ParseYAML reads a taxonomy document. JSON input is accepted as well since
// it is valid YAML.
func ParseYAML(data []byte) ([]Row, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Kind: KindParse, Detail: "decode yaml", Err: err}
	}

	switch {
	case doc.Root != nil && len(doc.Rows) > 0:
		return nil, loadErrorf(KindParse, "document has both root and rows")
	case doc.Root != nil:
		return flatten(doc.Root), nil
	case len(doc.Rows) > 0:
		return doc.Rows, nil
	default:
		return nil, loadErrorf(KindEmpty, "document has neither root nor rows")
	}
}

// flatten converts a nested tree to rows in pre-order so that Build keeps the
// document's child order.
func flatten(root *treeEntry) []Row {
	type item struct {
		e      *treeEntry
		parent string
	}
	var rows []Row
	stack := []item{{e: root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.e == nil {
			continue
		}
		r := Row{
			ID:          it.e.ID,
			Code:        it.e.Code,
			Description: it.e.Description,
			Parent:      it.parent,
			Keywords:    it.e.Keywords,
		}
		rows = append(rows, r)
		key := r.key()
		for i := len(it.e.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{e: it.e.Children[i], parent: key})
		}
	}
	return rows
}

// MarshalYAML renders t as a nested document readable by ParseYAML.
func MarshalYAML(t *Tree, name string) ([]byte, error) {
	var convert func(n *Node) *treeEntry
	convert = func(n *Node) *treeEntry {
		e := &treeEntry{
			Code:        n.Code,
			Description: n.Description,
			Keywords:    n.Keywords,
		}
		if n.ID != n.Code {
			e.ID = n.ID
		}
		for _, c := range n.Children {
			e.Children = append(e.Children, convert(c))
		}
		return e
	}
	return yaml.Marshal(document{Name: name, Root: convert(t.Root())})
}
