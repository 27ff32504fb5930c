package taxonomy

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for codes or IDs absent from the tree.
var ErrNotFound = errors.New("taxonomy node not found")

// Kind classifies a taxonomy load failure.
type Kind string

const (
	KindRead          Kind = "read"
	KindParse         Kind = "parse"
	KindEmpty         Kind = "empty"
	KindDuplicateCode Kind = "duplicate-code"
	KindDuplicateID   Kind = "duplicate-id"
	KindMissingRoot   Kind = "missing-root"
	KindMultipleRoots Kind = "multiple-roots"
	KindUnknownParent Kind = "unknown-parent"
	KindCycle         Kind = "cycle"
	KindInvalidRow    Kind = "invalid-row"
)

// LoadError reports a taxonomy that could not be loaded. It is fatal at
// start-up: no queries may be served against a partially built tree.
type LoadError struct {
	Kind   Kind
	Source string
	Detail string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("taxonomy load (%s)", e.Kind)
	if e.Source != "" {
		msg += " from " + e.Source
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func loadErrorf(kind Kind, format string, args ...interface{}) *LoadError {
	return &LoadError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsLoadError reports whether err is (or wraps) a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}
