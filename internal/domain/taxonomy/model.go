package taxonomy

// SystemICD10 is the canonical FHIR system URI for ICD-10-CM codes.
const SystemICD10 = "http://hl7.org/fhir/sid/icd-10-cm"

// Node is one level of the ICD-10 hierarchy. Nodes are created by Build and
// never modified afterwards.
type Node struct {
	ID          string
	Code        string
	Description string
	Keywords    []string
	Depth       int

	// Parent is a non-owning back-reference; nil for the root.
	Parent   *Node
	Children []*Node

	// order is the node's position in canonical pre-order.
	order int
}

// IsTerminal reports whether the node carries an assignable code.
func (n *Node) IsTerminal() bool {
	return n != nil && n.Code != ""
}

// Order returns the node's position in the tree's canonical pre-order walk.
func (n *Node) Order() int {
	return n.order
}

// Row is the flat source representation of a node, as read from a CSV table,
// a Postgres table or a flattened YAML/XML document.
type Row struct {
	ID          string   `json:"id" yaml:"id"`
	Code        string   `json:"code,omitempty" yaml:"code,omitempty"`
	Description string   `json:"description" yaml:"description"`
	Parent      string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// key returns the identifier the row is linked by: its ID, or its code when
// the source did not provide a separate ID.
func (r Row) key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Code
}

// Stats summarises a loaded tree.
type Stats struct {
	Nodes     int    `json:"nodes"`
	Terminals int    `json:"terminals"`
	Keywords  int    `json:"keywords"`
	MaxDepth  int    `json:"max_depth"`
	Version   string `json:"version"`
}

// NodeView is the JSON shape of a node returned by the API.
type NodeView struct {
	ID          string   `json:"id"`
	Code        string   `json:"code,omitempty"`
	Description string   `json:"description"`
	Depth       int      `json:"depth"`
	Terminal    bool     `json:"terminal"`
	Keywords    []string `json:"keywords,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Children    int      `json:"children"`
}

// View converts a node to its API representation.
func View(n *Node) NodeView {
	v := NodeView{
		ID:          n.ID,
		Code:        n.Code,
		Description: n.Description,
		Depth:       n.Depth,
		Terminal:    n.IsTerminal(),
		Keywords:    n.Keywords,
		Children:    len(n.Children),
	}
	if n.Parent != nil {
		v.Parent = n.Parent.ID
	}
	return v
}
