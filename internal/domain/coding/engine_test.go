package coding

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/digiscribe/internal/domain/taxonomy"
)

func builtinEngine(t *testing.T, defaults Options, opts ...EngineOption) *Engine {
	t.Helper()
	tree, err := taxonomy.Load(context.Background(), taxonomy.Builtin())
	if err != nil {
		t.Fatalf("load builtin taxonomy: %v", err)
	}
	e, err := NewEngine(tree, defaults, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return e
}

func mustCodes(t *testing.T, e *Engine, text string, opts Options) []string {
	t.Helper()
	codes, err := e.Codes(text, opts)
	if err != nil {
		t.Fatalf("Codes(%q) error: %v", text, err)
	}
	return codes
}

func TestScenarioA_SpecificCodeRanksFirst(t *testing.T) {
	e := builtinEngine(t, Options{})
	results, err := e.GetCodes("Patient has type 2 diabetes, stable", Options{})
	if err != nil {
		t.Fatalf("GetCodes() error: %v", err)
	}
	if len(results) == 0 || results[0].Code != "E11.9" {
		t.Fatalf("expected E11.9 first, got %+v", results)
	}
	top := results[0]
	if top.Description != "Type 2 diabetes mellitus without complications" {
		t.Errorf("unexpected description %q", top.Description)
	}
	if top.Confidence <= 0 || top.Confidence > 1 {
		t.Errorf("confidence out of range: %f", top.Confidence)
	}
	if len(top.Evidence) != 1 || top.Evidence[0].Start != 2 || top.Evidence[0].End != 5 {
		t.Errorf("unexpected evidence %+v", top.Evidence)
	}
}

func TestScenarioB_AncestorCollapsesToDescendant(t *testing.T) {
	e := builtinEngine(t, Options{})
	got := mustCodes(t, e, "Known T2DM. Assessment: type 2 diabetes without complications", Options{})
	if !reflect.DeepEqual(got, []string{"E11.9"}) {
		t.Errorf("expected only E11.9, got %v", got)
	}
}

func TestScenarioC_NoClinicalKeywords(t *testing.T) {
	e := builtinEngine(t, Options{})
	results, err := e.GetCodes("patient feels fine today", Options{})
	if err != nil {
		t.Fatalf("GetCodes() error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil result, got %v", results)
	}
}

func TestScenarioD_MalformedTaxonomyServesNothing(t *testing.T) {
	rows := []taxonomy.Row{
		{ID: "root", Description: "ICD-10-CM"},
		{Code: "J45", Description: "Asthma", Parent: "root"},
		{ID: "a", Code: "J45.0", Description: "Predominantly allergic asthma", Parent: "J45"},
		{ID: "b", Code: "J45.0", Description: "Allergic asthma", Parent: "J45"},
	}
	tree, err := taxonomy.Build(rows)
	var le *taxonomy.LoadError
	if !errors.As(err, &le) || le.Kind != taxonomy.KindDuplicateCode {
		t.Fatalf("expected duplicate code LoadError, got %v", err)
	}
	if _, err := NewEngine(tree, Options{}, zerolog.Nop()); err == nil {
		t.Error("expected engine construction to fail without a taxonomy")
	}
}

func TestGetCodes_EmptyInput(t *testing.T) {
	e := builtinEngine(t, Options{})
	for _, text := range []string{"", "   ", "\n\t", "the and of"} {
		results, err := e.GetCodes(text, Options{})
		if err != nil {
			t.Errorf("GetCodes(%q) error: %v", text, err)
		}
		if len(results) != 0 {
			t.Errorf("GetCodes(%q) = %v, want empty", text, results)
		}
	}
}

func TestGetCodes_Deterministic(t *testing.T) {
	e := builtinEngine(t, Options{})
	text := "Hx of HTN and CHF. Presents with cough, fever and shortness of breath; COPD exacerbation suspected."
	first, err := e.GetCodes(text, Options{})
	if err != nil {
		t.Fatalf("GetCodes() error: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected matches")
	}
	for i := 0; i < 3; i++ {
		again, _ := e.GetCodes(text, Options{})
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestGetCodes_OrderingAndInvariants(t *testing.T) {
	e := builtinEngine(t, Options{})
	results, err := e.GetCodes("asthma attack with fever, cough, coughing, chest pain and fever again", Options{})
	if err != nil {
		t.Fatalf("GetCodes() error: %v", err)
	}

	seen := make(map[string]bool)
	for i, r := range results {
		if r.Code == "" {
			t.Errorf("result %d has no code", i)
		}
		n, err := e.Tree().NodeByCode(r.Code)
		if err != nil || !n.IsTerminal() {
			t.Errorf("result %s is not a terminal node", r.Code)
		}
		if seen[r.Code] {
			t.Errorf("code %s emitted twice", r.Code)
		}
		seen[r.Code] = true
		if i > 0 {
			prev := results[i-1]
			if prev.Confidence < r.Confidence || (prev.Confidence == r.Confidence && prev.Code > r.Code) {
				t.Errorf("results out of order at %d: %+v before %+v", i, prev, r)
			}
		}
	}
	for _, code := range []string{"J45.901", "R50.9", "R05", "R07.9"} {
		if !seen[code] {
			t.Errorf("expected %s in %v", code, results)
		}
	}
	if seen["J45"] {
		t.Error("J45 should be implied by J45.901")
	}
}

func TestGetCodes_StructuralMatchesNeverEmitted(t *testing.T) {
	e := builtinEngine(t, Options{})
	if got := mustCodes(t, e, "diabetes mellitus", Options{}); len(got) != 0 {
		t.Errorf("expected no codes for a block-level match, got %v", got)
	}
}

func TestGetCodes_RepeatedEvidenceIsMonotone(t *testing.T) {
	e := builtinEngine(t, Options{})
	score := func(text string) float64 {
		t.Helper()
		results, err := e.GetCodes(text, Options{})
		if err != nil || len(results) != 1 || results[0].Code != "I10" {
			t.Fatalf("GetCodes(%q) = %v, %v", text, results, err)
		}
		return results[0].Confidence
	}
	once := score("hypertension")
	twice := score("hypertension, repeat reading confirms hypertension")
	if twice < once {
		t.Errorf("score decreased with more evidence: %f < %f", twice, once)
	}
	if twice == once {
		t.Errorf("expected repeated evidence to raise the score")
	}
}

func TestGetCodes_Options(t *testing.T) {
	e := builtinEngine(t, Options{})
	text := "cough and fever"

	if got := mustCodes(t, e, text, Options{}); len(got) != 2 {
		t.Fatalf("expected 2 codes, got %v", got)
	}
	if got := mustCodes(t, e, text, Options{MaxResults: 1}); len(got) != 1 {
		t.Errorf("expected MaxResults to truncate, got %v", got)
	}
	if got := mustCodes(t, e, text, Options{MinConfidenceThreshold: 0.99}); len(got) != 0 {
		t.Errorf("expected threshold to drop results, got %v", got)
	}
	if got := mustCodes(t, e, text, Options{TaxonomySource: "builtin"}); len(got) != 2 {
		t.Errorf("expected loaded source to be accepted, got %v", got)
	}
	if got := mustCodes(t, e, "the cough", Options{StopWords: []string{}}); !reflect.DeepEqual(got, []string{"R05"}) {
		t.Errorf("expected R05 without stop words, got %v", got)
	}
}

func TestGetCodes_ConfigurationErrors(t *testing.T) {
	e := builtinEngine(t, Options{})
	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"negative phrase length", Options{MaxPhraseLength: -1}, "max_phrase_length"},
		{"phrase length too large", Options{MaxPhraseLength: 33}, "max_phrase_length"},
		{"threshold above one", Options{MinConfidenceThreshold: 1.5}, "min_confidence_threshold"},
		{"negative threshold", Options{MinConfidenceThreshold: -0.1}, "min_confidence_threshold"},
		{"NaN threshold", Options{MinConfidenceThreshold: math.NaN()}, "min_confidence_threshold"},
		{"negative max results", Options{MaxResults: -2}, "max_results"},
		{"other taxonomy", Options{TaxonomySource: "/data/icd10.csv"}, "taxonomy_source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.GetCodes("cough", tt.opts)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, cfgErr.Field)
			}
		})
	}

	tree := e.Tree()
	if _, err := NewEngine(tree, Options{MaxResults: -1}, zerolog.Nop()); err == nil {
		t.Error("expected invalid defaults to be rejected")
	}
}

func TestGetCodes_ShortPhraseLengthReassemblesChunks(t *testing.T) {
	e := builtinEngine(t, Options{})
	got := mustCodes(t, e, "type 2 diabetes", Options{MaxPhraseLength: 2})
	if !reflect.DeepEqual(got, []string{"E11.9"}) {
		t.Errorf("expected E11.9 at phrase length 2, got %v", got)
	}
}

func TestEngine_VariantCache(t *testing.T) {
	e := builtinEngine(t, Options{})

	mustCodes(t, e, "cough", Options{MaxPhraseLength: 2})
	mustCodes(t, e, "cough", Options{MaxPhraseLength: 2})
	if n := e.cached.Load(); n != 1 {
		t.Fatalf("expected 1 cached variant, got %d", n)
	}
	mustCodes(t, e, "cough", Options{MaxPhraseLength: 4})
	if n := e.cached.Load(); n != 1 {
		t.Errorf("default options should not add a variant, got %d", n)
	}

	for l := 1; l <= 20; l++ {
		mustCodes(t, e, "cough", Options{MaxPhraseLength: l})
	}
	if n := e.cached.Load(); n != maxCachedVariants {
		t.Errorf("expected cache capped at %d, got %d", maxCachedVariants, n)
	}
	if got := mustCodes(t, e, "chest pain", Options{MaxPhraseLength: 20}); !reflect.DeepEqual(got, []string{"R07.9"}) {
		t.Errorf("uncached variant returned %v", got)
	}
}

func TestEngine_ConcurrentQueries(t *testing.T) {
	e := builtinEngine(t, Options{})
	want := mustCodes(t, e, "asthma and hypertension", Options{})

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opts := Options{MaxPhraseLength: 1 + i%6}
			got, err := e.Codes("asthma and hypertension", opts)
			if err != nil || !reflect.DeepEqual(got, want) {
				errs <- "mismatch"
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}

func TestEngine_SearchNodes(t *testing.T) {
	e := builtinEngine(t, Options{})
	nodes := e.SearchNodes("Hypertension")
	if len(nodes) != 1 || nodes[0].Code != "I10" {
		t.Errorf("expected I10, got %v", nodes)
	}
	if len(e.SearchNodes("nothing relevant")) != 0 {
		t.Error("expected no nodes")
	}
}

func TestEngine_WithoutDescriptions(t *testing.T) {
	e := builtinEngine(t, Options{}, WithDescriptions(false))
	if got := mustCodes(t, e, "Dorsalgia", Options{}); !reflect.DeepEqual(got, []string{"M54"}) {
		t.Errorf("expected keyword match for M54, got %v", got)
	}
	if got := mustCodes(t, e, "Cervicalgia", Options{}); len(got) != 0 {
		t.Errorf("expected descriptions to be skipped, got %v", got)
	}
}

func TestFormatCodes(t *testing.T) {
	if got := FormatCodes([]string{"E11.9", "I10"}); got != "E11.9 , I10" {
		t.Errorf("FormatCodes() = %q", got)
	}
	if got := FormatCodes(nil); got != NoMatchMessage {
		t.Errorf("FormatCodes(nil) = %q", got)
	}
}
