package taxonomy

// Relation is the outcome of a subsumption test between two nodes.
type Relation string

const (
	// Subsumes means node A is an ancestor of node B.
	Subsumes Relation = "subsumes"
	// SubsumedBy means node A is a descendant of node B.
	SubsumedBy Relation = "subsumed-by"
	// Equivalent means A and B are the same node.
	Equivalent Relation = "equivalent"
	// NotSubsumed means neither node lies on the other's ancestor chain.
	NotSubsumed Relation = "not-subsumed"
)

// Subsumption tests the hierarchical relationship between two references,
// each resolved by code first and then by ID.
func (t *Tree) Subsumption(refA, refB string) (Relation, error) {
	a, err := t.Resolve(refA)
	if err != nil {
		return "", err
	}
	b, err := t.Resolve(refB)
	if err != nil {
		return "", err
	}

	switch {
	case a == b:
		return Equivalent, nil
	case t.IsAncestor(a, b):
		return Subsumes, nil
	case t.IsAncestor(b, a):
		return SubsumedBy, nil
	default:
		return NotSubsumed, nil
	}
}
