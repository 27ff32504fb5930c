// Package matcher turns a normalized token stream into ranked taxonomy
// matches: candidate generation over phrase windows, overlap resolution,
// ancestor suppression and scoring.
package matcher

import (
	"sort"
	"strings"

	"github.com/ehr/digiscribe/internal/domain/lexicon"
	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/domain/textnorm"
)

// DefaultMaxEvidence caps how many distinct spans count towards a score.
const DefaultMaxEvidence = 3

// Config tunes scoring. Zero values select defaults.
type Config struct {
	MaxEvidence int
}

// Candidate is one index hit over the token span [Start, End).
type Candidate struct {
	Node   *taxonomy.Node
	Phrase string
	Start  int
	End    int
	Depth  int
}

// Len returns the span length in tokens.
func (c Candidate) Len() int { return c.End - c.Start }

// Span is one piece of evidence for a result. Start and End are word
// positions in the raw text, End exclusive.
type Span struct {
	Phrase string `json:"phrase"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result is a surviving terminal node with its aggregated score.
type Result struct {
	Node    *taxonomy.Node
	Score   float64
	BestLen int
	Spans   []Span
}

// Matcher is stateless and safe for concurrent use.
type Matcher struct {
	tree        *taxonomy.Tree
	index       *lexicon.Index
	maxEvidence int
}

// New returns a Matcher over an index built from tree.
func New(tree *taxonomy.Tree, index *lexicon.Index, cfg Config) *Matcher {
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = DefaultMaxEvidence
	}
	return &Matcher{tree: tree, index: index, maxEvidence: cfg.MaxEvidence}
}

// Index returns the index the matcher queries.
func (m *Matcher) Index() *lexicon.Index { return m.index }

// Match returns terminal results ordered by score descending, then code.
// maxPhraseLength bounds the window size; zero or values above the index's
// phrase length use the index's. An empty token stream yields no results.
func (m *Matcher) Match(tokens []textnorm.Token, maxPhraseLength int) []Result {
	if len(tokens) == 0 {
		return []Result{}
	}
	winners := resolveOverlaps(m.Candidates(tokens, maxPhraseLength))
	survivors := m.suppressAncestors(winners)

	results := make([]Result, 0, len(survivors))
	for _, group := range survivors {
		if !group[0].Node.IsTerminal() {
			continue
		}
		results = append(results, m.score(group, tokens))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.Code < results[j].Node.Code
	})
	return results
}

// Candidates returns every index hit over the token stream, ordered by start,
// end and node order. Chunked keywords yield one candidate spanning all of
// their chunks when the chunks occur contiguously and in order.
func (m *Matcher) Candidates(tokens []textnorm.Token, maxPhraseLength int) []Candidate {
	window := m.index.MaxPhraseLength()
	if maxPhraseLength > 0 && maxPhraseLength < window {
		window = maxPhraseLength
	}

	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Text
	}

	type key struct {
		node       *taxonomy.Node
		start, end int
	}
	seen := make(map[key]bool)
	var out []Candidate
	emit := func(n *taxonomy.Node, start, end int) {
		k := key{n, start, end}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, Candidate{
			Node:   n,
			Phrase: strings.Join(terms[start:end], " "),
			Start:  start,
			End:    end,
			Depth:  n.Depth,
		})
	}

	for i := range terms {
		for l := 1; l <= window && i+l <= len(terms); l++ {
			for _, p := range m.index.Lookup(strings.Join(terms[i:i+l], " ")) {
				switch {
				case p.Whole():
					emit(p.Node, i, i+l)
				case p.Part == 0:
					if end, ok := reassemble(terms, i+l, p.Chunks[1:]); ok {
						emit(p.Node, i, end)
					}
				}
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Start != out[b].Start {
			return out[a].Start < out[b].Start
		}
		if out[a].End != out[b].End {
			return out[a].End < out[b].End
		}
		return out[a].Node.Order() < out[b].Node.Order()
	})
	return out
}

// reassemble checks that chunks follow one another from token pos and
// returns the end of the last chunk.
func reassemble(terms []string, pos int, chunks []string) (int, bool) {
	for _, c := range chunks {
		n := strings.Count(c, " ") + 1
		if pos+n > len(terms) || strings.Join(terms[pos:pos+n], " ") != c {
			return 0, false
		}
		pos += n
	}
	return pos, true
}

// resolveOverlaps groups candidates whose spans overlap (interval merge over
// candidates sorted by start) and keeps one winner per group.
func resolveOverlaps(cands []Candidate) []Candidate {
	var winners []Candidate
	for i := 0; i < len(cands); {
		best := cands[i]
		end := cands[i].End
		j := i + 1
		for ; j < len(cands) && cands[j].Start < end; j++ {
			if cands[j].End > end {
				end = cands[j].End
			}
			if better(cands[j], best) {
				best = cands[j]
			}
		}
		winners = append(winners, best)
		i = j
	}
	return winners
}

// better orders candidates by depth desc, span length desc, code asc and
// node ID asc.
func better(a, b Candidate) bool {
	if a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	if a.Len() != b.Len() {
		return a.Len() > b.Len()
	}
	if a.Node.Code != b.Node.Code {
		return a.Node.Code < b.Node.Code
	}
	return a.Node.ID < b.Node.ID
}

// suppressAncestors groups winners by node and drops every node that is an
// ancestor of another surviving node. Groups are returned in node order.
func (m *Matcher) suppressAncestors(winners []Candidate) [][]Candidate {
	byNode := make(map[*taxonomy.Node][]Candidate)
	var nodes []*taxonomy.Node
	for _, w := range winners {
		if _, ok := byNode[w.Node]; !ok {
			nodes = append(nodes, w.Node)
		}
		byNode[w.Node] = append(byNode[w.Node], w)
	}

	implied := make(map[*taxonomy.Node]bool)
	for _, n := range nodes {
		for _, a := range m.tree.AncestorsOf(n) {
			implied[a] = true
		}
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Order() < nodes[j].Order() })
	out := make([][]Candidate, 0, len(nodes))
	for _, n := range nodes {
		if !implied[n] {
			out = append(out, byNode[n])
		}
	}
	return out
}

func (m *Matcher) score(group []Candidate, tokens []textnorm.Token) Result {
	r := Result{Node: group[0].Node, Spans: make([]Span, 0, len(group))}
	for _, c := range group {
		if c.Len() > r.BestLen {
			r.BestLen = c.Len()
		}
		r.Spans = append(r.Spans, Span{
			Phrase: c.Phrase,
			Start:  tokens[c.Start].Position,
			End:    tokens[c.End-1].Position + 1,
		})
	}
	r.Score = Score(r.BestLen, r.Node.Depth, len(group), m.maxEvidence)
	return r
}

// Score combines the longest supporting span, node depth and the number of
// distinct supporting spans into a confidence in (0, 1]. It is monotone in
// each argument; evidence beyond maxEvidence does not count.
func Score(bestLen, depth, evidence, maxEvidence int) float64 {
	if maxEvidence <= 0 {
		maxEvidence = DefaultMaxEvidence
	}
	if evidence < 1 {
		evidence = 1
	}
	if evidence > maxEvidence {
		evidence = maxEvidence
	}
	l := float64(bestLen)
	d := float64(depth)
	length := l / (l + 1)
	specificity := (d + 1) / (d + 2)
	return length * specificity * evidenceFactor(evidence) / evidenceFactor(maxEvidence)
}

func evidenceFactor(n int) float64 {
	return 1 + 0.25*float64(n-1)
}
