package fhir

import (
	"encoding/json"
	"fmt"
	"io"
)

// Parameters is the FHIR resource used for operation input and output.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

type Parameter struct {
	Name         string      `json:"name"`
	ValueString  string      `json:"valueString,omitempty"`
	ValueCode    string      `json:"valueCode,omitempty"`
	ValueURI     string      `json:"valueUri,omitempty"`
	ValueBoolean *bool       `json:"valueBoolean,omitempty"`
	ValueInteger *int        `json:"valueInteger,omitempty"`
	ValueCoding  *Coding     `json:"valueCoding,omitempty"`
	Part         []Parameter `json:"part,omitempty"`
}

func NewParameters() *Parameters {
	return &Parameters{ResourceType: "Parameters", Parameter: []Parameter{}}
}

func (p *Parameters) AddString(name, v string) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueString: v})
	return p
}

func (p *Parameters) AddCode(name, v string) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueCode: v})
	return p
}

func (p *Parameters) AddBoolean(name string, v bool) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{Name: name, ValueBoolean: &v})
	return p
}

func (p *Parameters) AddPart(name string, parts ...Parameter) *Parameters {
	p.Parameter = append(p.Parameter, Parameter{Name: name, Part: parts})
	return p
}

// Value returns the first non-empty primitive value of the named parameter.
func (p *Parameters) Value(name string) string {
	for _, param := range p.Parameter {
		if param.Name != name {
			continue
		}
		switch {
		case param.ValueCode != "":
			return param.ValueCode
		case param.ValueURI != "":
			return param.ValueURI
		case param.ValueString != "":
			return param.ValueString
		case param.ValueCoding != nil:
			return param.ValueCoding.Code
		}
	}
	return ""
}

// ReadParameters decodes a Parameters resource from r.
func ReadParameters(r io.Reader) (*Parameters, error) {
	var p Parameters
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid Parameters body: %w", err)
	}
	if p.ResourceType != "" && p.ResourceType != "Parameters" {
		return nil, fmt.Errorf("expected resourceType Parameters, got %q", p.ResourceType)
	}
	return &p, nil
}
