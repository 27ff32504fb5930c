// Package lexicon maps normalized phrases to the taxonomy nodes whose
// keywords contain them.
package lexicon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/domain/textnorm"
)

const (
	// DefaultMaxPhraseLength is the longest phrase, in tokens, indexed whole.
	DefaultMaxPhraseLength = 4
	// MaxPhraseLimit bounds the configurable phrase length.
	MaxPhraseLimit = 32
)

// Posting records that a node's keyword produced an indexed phrase. Keywords
// longer than the index's phrase length are split into consecutive chunks,
// one posting per chunk; Chunks holds every chunk phrase of that keyword.
type Posting struct {
	Node    *taxonomy.Node
	Keyword int
	Part    int
	Parts   int
	Length  int
	Chunks  []string
}

// Whole reports whether the posting covers its complete keyword.
func (p Posting) Whole() bool { return p.Parts <= 1 }

// Index is immutable once built and safe for concurrent reads.
type Index struct {
	norm     *textnorm.Normalizer
	maxLen   int
	postings map[string][]Posting
	keywords int
	chunked  int
}

type options struct {
	descriptions bool
}

// Option configures Build.
type Option func(*options)

// WithDescriptions controls whether node descriptions are indexed alongside
// their keywords. Enabled by default.
func WithDescriptions(on bool) Option {
	return func(o *options) { o.descriptions = on }
}

// Build indexes every keyword of every node in tree. The result depends only
// on the tree, the normalizer's stop words and maxPhraseLength; nodes are
// visited in canonical pre-order so postings are ordered deterministically.
func Build(tree *taxonomy.Tree, norm *textnorm.Normalizer, maxPhraseLength int, opts ...Option) (*Index, error) {
	if maxPhraseLength == 0 {
		maxPhraseLength = DefaultMaxPhraseLength
	}
	if maxPhraseLength < 1 || maxPhraseLength > MaxPhraseLimit {
		return nil, fmt.Errorf("max phrase length %d out of range [1,%d]", maxPhraseLength, MaxPhraseLimit)
	}
	o := options{descriptions: true}
	for _, opt := range opts {
		opt(&o)
	}

	idx := &Index{
		norm:     norm,
		maxLen:   maxPhraseLength,
		postings: make(map[string][]Posting),
	}
	for _, n := range tree.Nodes() {
		phrases := n.Keywords
		if o.descriptions && n.Description != "" {
			phrases = append(append([]string(nil), n.Keywords...), n.Description)
		}
		seen := make(map[string]bool, len(phrases))
		for ord, kw := range phrases {
			terms := norm.Terms(kw)
			if len(terms) == 0 {
				continue
			}
			key := strings.Join(terms, " ")
			if seen[key] {
				continue
			}
			seen[key] = true
			idx.add(n, ord, terms)
		}
	}
	return idx, nil
}

func (idx *Index) add(n *taxonomy.Node, ord int, terms []string) {
	idx.keywords++
	if len(terms) <= idx.maxLen {
		phrase := strings.Join(terms, " ")
		idx.postings[phrase] = append(idx.postings[phrase], Posting{
			Node: n, Keyword: ord, Parts: 1, Length: len(terms),
		})
		return
	}

	idx.chunked++
	chunks := chunk(terms, idx.maxLen)
	for part, c := range chunks {
		idx.postings[c] = append(idx.postings[c], Posting{
			Node: n, Keyword: ord, Part: part, Parts: len(chunks), Length: len(terms), Chunks: chunks,
		})
	}
}

// chunk splits terms into consecutive non-overlapping phrases of at most size
// tokens.
func chunk(terms []string, size int) []string {
	out := make([]string, 0, (len(terms)+size-1)/size)
	for start := 0; start < len(terms); start += size {
		end := start + size
		if end > len(terms) {
			end = len(terms)
		}
		out = append(out, strings.Join(terms[start:end], " "))
	}
	return out
}

// MaxPhraseLength returns the longest phrase, in tokens, stored whole.
func (idx *Index) MaxPhraseLength() int { return idx.maxLen }

// Normalizer returns the normalizer keywords were indexed with.
func (idx *Index) Normalizer() *textnorm.Normalizer { return idx.norm }

// Len returns the number of distinct phrases in the index.
func (idx *Index) Len() int { return len(idx.postings) }

// Keywords returns the number of indexed keyword phrases and how many of them
// were split into chunks.
func (idx *Index) Keywords() (total, chunked int) { return idx.keywords, idx.chunked }

// Phrases returns every indexed phrase in sorted order.
func (idx *Index) Phrases() []string {
	out := make([]string, 0, len(idx.postings))
	for p := range idx.postings {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the postings stored under an already normalized phrase, or
// nil when there are none. The returned slice must not be modified.
func (idx *Index) Lookup(phrase string) []Posting {
	return idx.postings[phrase]
}

// LookupNodes returns the nodes having a keyword equal to the normalized
// phrase, in canonical order. Phrases longer than the index's phrase length
// are matched by reassembling their chunks.
func (idx *Index) LookupNodes(phrase string) []*taxonomy.Node {
	terms := strings.Fields(phrase)
	if len(terms) == 0 {
		return nil
	}

	var out []*taxonomy.Node
	seen := make(map[*taxonomy.Node]bool)
	if len(terms) <= idx.maxLen {
		for _, p := range idx.postings[strings.Join(terms, " ")] {
			if p.Whole() && !seen[p.Node] {
				seen[p.Node] = true
				out = append(out, p.Node)
			}
		}
		return out
	}

	chunks := chunk(terms, idx.maxLen)
	for _, p := range idx.postings[chunks[0]] {
		if p.Part == 0 && !p.Whole() && equal(p.Chunks, chunks) && !seen[p.Node] {
			seen[p.Node] = true
			out = append(out, p.Node)
		}
	}
	return out
}

// Search normalizes free text and returns the nodes having it as a keyword.
func (idx *Index) Search(text string) []*taxonomy.Node {
	return idx.LookupNodes(idx.norm.Phrase(text))
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
