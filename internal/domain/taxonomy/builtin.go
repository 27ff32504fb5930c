package taxonomy

import (
	"context"
	_ "embed"
)

//go:embed builtin.yaml
var builtinYAML []byte

type builtinSource struct{}

// Builtin returns the source for the embedded ICD-10-CM sample.
func Builtin() Source { return builtinSource{} }

func (builtinSource) Name() string { return SourceBuiltin }

func (builtinSource) Rows(_ context.Context) ([]Row, error) {
	return ParseYAML(builtinYAML)
}
