package taxonomy

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// CSV columns, matched case-insensitively against the header row. Either id
// or code must be present; parent and keywords are optional.
const (
	colID          = "id"
	colCode        = "code"
	colDescription = "description"
	colParent      = "parent"
	colKeywords    = "keywords"
)

// ParseCSV reads a header row followed by one row per node. Keywords are
// separated by ';' or '|'.
func ParseCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, loadErrorf(KindEmpty, "csv has no header row")
		}
		return nil, &LoadError{Kind: KindParse, Detail: "read csv header", Err: err}
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	_, hasID := cols[colID]
	_, hasCode := cols[colCode]
	if !hasID && !hasCode {
		return nil, loadErrorf(KindParse, "csv header needs an %q or %q column", colID, colCode)
	}
	if _, ok := cols[colDescription]; !ok {
		return nil, loadErrorf(KindParse, "csv header needs a %q column", colDescription)
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &LoadError{Kind: KindParse, Detail: "read csv record", Err: err}
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		rows = append(rows, Row{
			ID:          field(rec, colID),
			Code:        field(rec, colCode),
			Description: field(rec, colDescription),
			Parent:      field(rec, colParent),
			Keywords:    splitKeywords(field(rec, colKeywords)),
		})
	}
	return rows, nil
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
