package taxonomy

import (
	"encoding/xml"
	"io"
	"strings"
)

// tabularRootID is the synthetic root added above the chapters of an
// ICD-10-CM tabular list, which has no single top-level concept of its own.
const tabularRootID = "ICD-10-CM"

type tabular struct {
	XMLName  xml.Name  `xml:"ICD10CM.tabular"`
	Title    string    `xml:"introduction>title"`
	Chapters []chapter `xml:"chapter"`
}

type chapter struct {
	Name     string    `xml:"name"`
	Desc     string    `xml:"desc"`
	Sections []section `xml:"section"`
}

type section struct {
	ID    string       `xml:"id,attr"`
	Desc  string       `xml:"desc"`
	Diags []*diagnosis `xml:"diag"`
}

type diagnosis struct {
	Code           string       `xml:"name"`
	Description    string       `xml:"desc"`
	InclusionTerms []string     `xml:"inclusionTerm>note"`
	Subcategories  []*diagnosis `xml:"diag"`
}

// ParseTabularXML reads the CMS ICD-10-CM tabular list. Chapters and sections
// become structural nodes; every diag element becomes a coded node whose
// inclusion terms are used as keywords.
func ParseTabularXML(r io.Reader) ([]Row, error) {
	var doc tabular
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &LoadError{Kind: KindParse, Detail: "decode tabular xml", Err: err}
	}
	if len(doc.Chapters) == 0 {
		return nil, loadErrorf(KindEmpty, "tabular list has no chapters")
	}

	rows := []Row{{ID: tabularRootID, Description: "ICD-10-CM Tabular List of Diseases and Injuries"}}
	for _, ch := range doc.Chapters {
		chID := "chapter-" + strings.TrimSpace(ch.Name)
		rows = append(rows, Row{ID: chID, Description: ch.Desc, Parent: tabularRootID})
		for _, sec := range ch.Sections {
			secID := "section-" + strings.TrimSpace(sec.ID)
			rows = append(rows, Row{ID: secID, Description: sec.Desc, Parent: chID})
			for _, d := range sec.Diags {
				rows = appendDiagnosis(rows, d, secID)
			}
		}
	}
	return rows, nil
}

func appendDiagnosis(rows []Row, d *diagnosis, parent string) []Row {
	rows = append(rows, Row{
		Code:        strings.TrimSpace(d.Code),
		Description: d.Description,
		Parent:      parent,
		Keywords:    d.InclusionTerms,
	})
	for _, sub := range d.Subcategories {
		rows = appendDiagnosis(rows, sub, strings.TrimSpace(d.Code))
	}
	return rows
}
