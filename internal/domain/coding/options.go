package coding

import (
	"fmt"
	"math"

	"github.com/ehr/digiscribe/internal/domain/lexicon"
)

// Options tunes a query. Zero values select the engine's defaults; a nil
// StopWords uses the default list while an empty non-nil slice disables
// stop-word filtering.
type Options struct {
	MaxPhraseLength        int      `json:"max_phrase_length,omitempty"`
	StopWords              []string `json:"stop_words,omitempty"`
	MinConfidenceThreshold float64  `json:"min_confidence_threshold,omitempty"`
	MaxResults             int      `json:"max_results,omitempty"`
	TaxonomySource         string   `json:"taxonomy_source,omitempty"`
}

// ConfigurationError reports an invalid option. It is returned before any
// matching work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks option ranges. It does not know which taxonomy is loaded;
// Engine checks TaxonomySource.
func (o Options) Validate() error {
	if o.MaxPhraseLength < 0 || o.MaxPhraseLength > lexicon.MaxPhraseLimit {
		return &ConfigurationError{
			Field:  "max_phrase_length",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", lexicon.MaxPhraseLimit, o.MaxPhraseLength),
		}
	}
	if math.IsNaN(o.MinConfidenceThreshold) || o.MinConfidenceThreshold < 0 || o.MinConfidenceThreshold > 1 {
		return &ConfigurationError{
			Field:  "min_confidence_threshold",
			Reason: fmt.Sprintf("must be within [0, 1], got %v", o.MinConfidenceThreshold),
		}
	}
	if o.MaxResults < 0 {
		return &ConfigurationError{
			Field:  "max_results",
			Reason: fmt.Sprintf("must not be negative, got %d", o.MaxResults),
		}
	}
	return nil
}

// merge fills zero fields of o from defaults.
func (o Options) merge(defaults Options) Options {
	if o.MaxPhraseLength == 0 {
		o.MaxPhraseLength = defaults.MaxPhraseLength
	}
	if o.MaxPhraseLength == 0 {
		o.MaxPhraseLength = lexicon.DefaultMaxPhraseLength
	}
	if o.StopWords == nil {
		o.StopWords = defaults.StopWords
	}
	if o.MinConfidenceThreshold == 0 {
		o.MinConfidenceThreshold = defaults.MinConfidenceThreshold
	}
	if o.MaxResults == 0 {
		o.MaxResults = defaults.MaxResults
	}
	return o
}
