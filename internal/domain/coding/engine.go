// Package coding is the query facade: it wires the text normalizer, the
// lexical index and the matcher over a loaded taxonomy and answers "which
// ICD-10 codes does this note evidence".
package coding

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/digiscribe/internal/domain/lexicon"
	"github.com/ehr/digiscribe/internal/domain/matcher"
	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/domain/textnorm"
)

// maxCachedVariants bounds how many non-default index variants are kept.
const maxCachedVariants = 16

// CodeResult is one assigned code.
type CodeResult struct {
	Code        string         `json:"code"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Depth       int            `json:"depth"`
	Evidence    []matcher.Span `json:"evidence,omitempty"`
}

// variant is an index and matcher built for one (phrase length, stop words)
// pair.
type variant struct {
	norm    *textnorm.Normalizer
	matcher *matcher.Matcher
}

type engineConfig struct {
	descriptions bool
	maxEvidence  int
}

// EngineOption configures index construction.
type EngineOption func(*engineConfig)

// WithDescriptions controls whether node descriptions are indexed as
// keywords. Enabled by default.
func WithDescriptions(on bool) EngineOption {
	return func(c *engineConfig) { c.descriptions = on }
}

// WithMaxEvidence caps the number of spans counted towards a score.
func WithMaxEvidence(n int) EngineOption {
	return func(c *engineConfig) { c.maxEvidence = n }
}

// Engine answers coding queries against one immutable taxonomy. It is safe
// for concurrent use; the only mutable state is the variant cache.
type Engine struct {
	tree     *taxonomy.Tree
	defaults Options
	cfg      engineConfig
	logger   zerolog.Logger

	baseKey  string
	base     *variant
	variants sync.Map
	cached   atomic.Int32
}

// NewEngine builds the default index for tree. defaults supplies the values
// used when a query leaves an option at zero.
func NewEngine(tree *taxonomy.Tree, defaults Options, logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	if tree == nil {
		return nil, fmt.Errorf("coding engine: nil taxonomy")
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	cfg := engineConfig{descriptions: true, maxEvidence: matcher.DefaultMaxEvidence}
	for _, o := range opts {
		o(&cfg)
	}

	e := &Engine{
		tree:     tree,
		defaults: defaults.merge(Options{}),
		cfg:      cfg,
		logger:   logger.With().Str("component", "coding").Logger(),
	}

	start := time.Now()
	norm := textnorm.New(e.defaults.StopWords)
	base, err := e.build(norm, e.defaults.MaxPhraseLength)
	if err != nil {
		return nil, err
	}
	e.base = base
	e.baseKey = variantKey(e.defaults.MaxPhraseLength, norm)

	idx := base.matcher.Index()
	keywords, chunked := idx.Keywords()
	e.logger.Info().
		Str("taxonomy_source", tree.Source()).
		Str("taxonomy_version", tree.Version()).
		Int("nodes", tree.Len()).
		Int("phrases", idx.Len()).
		Int("keywords", keywords).
		Int("chunked_keywords", chunked).
		Int("max_phrase_length", idx.MaxPhraseLength()).
		Dur("elapsed", time.Since(start)).
		Msg("coding index built")
	return e, nil
}

func variantKey(maxPhraseLength int, norm *textnorm.Normalizer) string {
	return fmt.Sprintf("%d|%s", maxPhraseLength, norm.StopWordsKey())
}

func (e *Engine) build(norm *textnorm.Normalizer, maxPhraseLength int) (*variant, error) {
	idx, err := lexicon.Build(e.tree, norm, maxPhraseLength, lexicon.WithDescriptions(e.cfg.descriptions))
	if err != nil {
		return nil, err
	}
	return &variant{
		norm:    norm,
		matcher: matcher.New(e.tree, idx, matcher.Config{MaxEvidence: e.cfg.maxEvidence}),
	}, nil
}

// variant returns the index variant for resolved options, building it on
// first use. Up to maxCachedVariants variants are kept; past that they are
// built per call.
func (e *Engine) variant(o Options) (*variant, error) {
	norm := textnorm.New(o.StopWords)
	key := variantKey(o.MaxPhraseLength, norm)
	if key == e.baseKey {
		return e.base, nil
	}
	if v, ok := e.variants.Load(key); ok {
		return v.(*variant), nil
	}

	v, err := e.build(norm, o.MaxPhraseLength)
	if err != nil {
		return nil, err
	}
	if e.cached.Add(1) <= maxCachedVariants {
		if actual, loaded := e.variants.LoadOrStore(key, v); loaded {
			e.cached.Add(-1)
			return actual.(*variant), nil
		}
		e.logger.Debug().Int("max_phrase_length", o.MaxPhraseLength).Msg("cached index variant")
	} else {
		e.cached.Add(-1)
	}
	return v, nil
}

// Tree returns the taxonomy the engine was built over.
func (e *Engine) Tree() *taxonomy.Tree { return e.tree }

// Version returns the taxonomy version results are computed against.
func (e *Engine) Version() string { return e.tree.Version() }

// Defaults returns the resolved default options.
func (e *Engine) Defaults() Options { return e.defaults }

// resolve validates call options and fills unset fields from the defaults.
func (e *Engine) resolve(o Options) (Options, error) {
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	if src := strings.TrimSpace(o.TaxonomySource); src != "" &&
		src != e.tree.Source() && src != e.defaults.TaxonomySource {
		return Options{}, &ConfigurationError{
			Field:  "taxonomy_source",
			Reason: fmt.Sprintf("engine is loaded from %q, not %q", e.tree.Source(), src),
		}
	}
	return o.merge(e.defaults), nil
}

// GetCodes returns the codes evidenced by text, ordered by confidence
// descending then code. No match, including empty text, is an empty slice
// and not an error; only invalid options fail.
func (e *Engine) GetCodes(text string, opts Options) ([]CodeResult, error) {
	o, err := e.resolve(opts)
	if err != nil {
		return nil, err
	}
	v, err := e.variant(o)
	if err != nil {
		return nil, err
	}

	tokens := v.norm.Normalize(text)
	matches := v.matcher.Match(tokens, o.MaxPhraseLength)

	out := make([]CodeResult, 0, len(matches))
	for _, m := range matches {
		if m.Score < o.MinConfidenceThreshold {
			continue
		}
		if o.MaxResults > 0 && len(out) == o.MaxResults {
			break
		}
		out = append(out, CodeResult{
			Code:        m.Node.Code,
			Description: m.Node.Description,
			Confidence:  m.Score,
			Depth:       m.Node.Depth,
			Evidence:    m.Spans,
		})
	}

	e.logger.Debug().
		Int("text_length", len(text)).
		Int("tokens", len(tokens)).
		Int("matches", len(matches)).
		Int("results", len(out)).
		Msg("coded note")
	return out, nil
}

// Codes returns only the code strings GetCodes would return.
func (e *Engine) Codes(text string, opts Options) ([]string, error) {
	results, err := e.GetCodes(text, opts)
	if err != nil {
		return nil, err
	}
	return codesOf(results), nil
}

// SearchNodes returns the nodes whose keywords equal the normalized text,
// using the default index.
func (e *Engine) SearchNodes(text string) []*taxonomy.Node {
	return e.base.matcher.Index().Search(text)
}
