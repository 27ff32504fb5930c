package taxonomy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source supplies taxonomy rows. Implementations are read once, at start-up.
type Source interface {
	Name() string
	Rows(ctx context.Context) ([]Row, error)
}

// Load reads rows from src and builds a tree. Every failure, including I/O and
// parse errors, is returned as *LoadError.
func Load(ctx context.Context, src Source) (*Tree, error) {
	rows, err := src.Rows(ctx)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			if le.Source == "" {
				le.Source = src.Name()
			}
			return nil, le
		}
		return nil, &LoadError{Kind: KindRead, Source: src.Name(), Err: err}
	}

	t, err := Build(rows)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = src.Name()
			return nil, le
		}
		return nil, err
	}
	t.source = src.Name()
	return t, nil
}

// Kinds of TAXONOMY_SOURCE values.
const (
	SourceBuiltin  = "builtin"
	SourceDatabase = "postgres"
)

// IsDatabaseSource reports whether spec refers to a Postgres table rather
// than a file or the embedded sample.
func IsDatabaseSource(spec string) bool {
	s := strings.ToLower(strings.TrimSpace(spec))
	return s == SourceDatabase || s == "database" ||
		strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

// DatabaseURL returns the DSN embedded in spec, or fallback when spec is the
// bare "postgres" keyword.
func DatabaseURL(spec, fallback string) string {
	s := strings.TrimSpace(spec)
	if strings.Contains(s, "://") {
		return s
	}
	return fallback
}

// OpenFile resolves a non-database source spec: "builtin" (or empty) for the
// embedded sample, otherwise a file path whose extension picks the parser.
func OpenFile(spec string) (Source, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, SourceBuiltin) {
		return Builtin(), nil
	}
	if IsDatabaseSource(spec) {
		return nil, fmt.Errorf("source %q is a database source", spec)
	}
	switch strings.ToLower(filepath.Ext(spec)) {
	case ".csv", ".yaml", ".yml", ".json", ".xml":
		return &FileSource{Path: spec}, nil
	default:
		return nil, fmt.Errorf("unsupported taxonomy source %q (want builtin, .csv, .yaml, .json, .xml or postgres)", spec)
	}
}

// FileSource reads rows from a file on disk; the extension selects the format.
type FileSource struct {
	Path string
}

func (s *FileSource) Name() string { return s.Path }

func (s *FileSource) Rows(_ context.Context) ([]Row, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &LoadError{Kind: KindRead, Source: s.Path, Err: err}
	}
	return ParseBytes(filepath.Ext(s.Path), data)
}

// ParseBytes parses data in the format named by ext (".csv", ".yaml", ".yml",
// ".json" or ".xml").
func ParseBytes(ext string, data []byte) ([]Row, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return ParseCSV(bytes.NewReader(data))
	case ".yaml", ".yml", ".json":
		return ParseYAML(data)
	case ".xml":
		return ParseTabularXML(bytes.NewReader(data))
	default:
		return nil, loadErrorf(KindParse, "unknown format %q", ext)
	}
}
