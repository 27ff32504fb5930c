package taxonomy

import (
	"errors"
	"fmt"

	"github.com/ehr/digiscribe/internal/platform/fhir"
)

// CodeSystem exposes a tree through the FHIR terminology operations.
type CodeSystem struct {
	tree *Tree
}

func NewCodeSystem(t *Tree) *CodeSystem {
	return &CodeSystem{tree: t}
}

func (cs *CodeSystem) checkSystem(system string) error {
	if system != "" && system != SystemICD10 {
		return fmt.Errorf("%w: %s", fhir.ErrUnsupportedSystem, system)
	}
	return nil
}

func (cs *CodeSystem) resolve(ref string) (*Node, error) {
	n, err := cs.tree.Resolve(ref)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", fhir.ErrCodeNotFound, ref)
	}
	return n, err
}

// LookupCode implements fhir.CodeSystemLookup. Structural nodes resolve by ID
// and are reported as abstract.
func (cs *CodeSystem) LookupCode(system, code string) (*fhir.LookupResult, error) {
	if err := cs.checkSystem(system); err != nil {
		return nil, err
	}
	n, err := cs.resolve(code)
	if err != nil {
		return nil, err
	}

	res := &fhir.LookupResult{
		Name:     "ICD-10-CM",
		Version:  cs.tree.Version(),
		Display:  n.Description,
		Abstract: !n.IsTerminal(),
	}
	if n.Parent != nil {
		res.Property = append(res.Property, fhir.LookupProperty{Code: "parent", Value: ref(n.Parent)})
	}
	for _, c := range n.Children {
		res.Property = append(res.Property, fhir.LookupProperty{Code: "child", Value: ref(c)})
	}
	return res, nil
}

// CheckSubsumption implements fhir.SubsumptionChecker using tree ancestry.
func (cs *CodeSystem) CheckSubsumption(system, codeA, codeB string) (fhir.SubsumptionResult, error) {
	if err := cs.checkSystem(system); err != nil {
		return "", err
	}
	if _, err := cs.resolve(codeA); err != nil {
		return "", err
	}
	if _, err := cs.resolve(codeB); err != nil {
		return "", err
	}
	rel, err := cs.tree.Subsumption(codeA, codeB)
	if err != nil {
		return "", err
	}
	return fhir.SubsumptionResult(rel), nil
}

// ref is the identifier clients use for n: its code, or its ID when n is
// structural.
func ref(n *Node) string {
	if n.Code != "" {
		return n.Code
	}
	return n.ID
}
