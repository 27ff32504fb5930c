// Package textnorm turns raw clinical text into a canonical token stream:
// case-folded, accent-free, punctuation-stripped, stop-word filtered and
// stemmed. Keywords and query text go through the same Normalizer so that
// their tokens compare equal.
package textnorm

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/kljensen/snowball/english"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Token is one normalized term.
type Token struct {
	// Text is the canonical (stemmed) form used for matching.
	Text string
	// Surface is the folded word the token was produced from.
	Surface string
	// Position is the index of the word in the input, counting stop words.
	Position int
}

// Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	stop map[string]struct{}
	key  string
}

// folder bundles the stateful x/text transformers; a Caser must not be
// shared between goroutines.
type folder struct {
	fold  cases.Caser
	strip transform.Transformer
}

var folders = sync.Pool{
	New: func() interface{} {
		return &folder{
			fold:  cases.Fold(),
			strip: transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		}
	},
}

func foldString(s string) string {
	f := folders.Get().(*folder)
	defer folders.Put(f)

	f.fold.Reset()
	s = f.fold.String(s)
	f.strip.Reset()
	out, _, err := transform.String(f.strip, s)
	if err != nil {
		return s
	}
	return out
}

// New returns a Normalizer dropping stopWords. A nil slice selects
// DefaultStopWords; an empty non-nil slice disables stop-word filtering.
func New(stopWords []string) *Normalizer {
	if stopWords == nil {
		stopWords = defaultStopWords
	}
	n := &Normalizer{stop: make(map[string]struct{}, len(stopWords))}
	for _, w := range stopWords {
		w = strings.TrimSpace(stripPunctuation(foldString(w)))
		if w != "" {
			n.stop[w] = struct{}{}
		}
	}

	words := make([]string, 0, len(n.stop))
	for w := range n.stop {
		words = append(words, w)
	}
	sort.Strings(words)
	n.key = strings.Join(words, ",")
	return n
}

// Default returns a Normalizer with the default stop words.
func Default() *Normalizer { return New(nil) }

// StopWordsKey identifies the stop-word set; two normalizers with the same
// key produce the same tokens.
func (n *Normalizer) StopWordsKey() string { return n.key }

// IsStopWord reports whether the folded word is filtered.
func (n *Normalizer) IsStopWord(word string) bool {
	_, ok := n.stop[strings.TrimSpace(stripPunctuation(foldString(word)))]
	return ok
}

// Normalize tokenizes raw. Empty or blank input yields an empty slice.
func (n *Normalizer) Normalize(raw string) []Token {
	if strings.TrimSpace(raw) == "" {
		return []Token{}
	}

	words := strings.Fields(stripPunctuation(foldString(raw)))
	tokens := make([]Token, 0, len(words))
	for pos, w := range words {
		if _, stop := n.stop[w]; stop {
			continue
		}
		tokens = append(tokens, Token{Text: stem(w), Surface: w, Position: pos})
	}
	return tokens
}

// Terms returns only the canonical text of each token.
func (n *Normalizer) Terms(raw string) []string {
	tokens := n.Normalize(raw)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// Phrase returns the normalized terms of raw joined by single spaces.
func (n *Normalizer) Phrase(raw string) string {
	return strings.Join(n.Terms(raw), " ")
}

// stripPunctuation replaces punctuation with spaces. Hyphens survive between
// two letters or digits ("a-fib", "covid-19"), as do decimal points between
// digits ("2.5"). Apostrophes inside words are removed ("patient's").
func stripPunctuation(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '-' && between(rs, i, isAlnum):
			b.WriteRune(r)
		case r == '.' && between(rs, i, unicode.IsDigit):
			b.WriteRune(r)
		case (r == '\'' || r == '’') && between(rs, i, unicode.IsLetter):
			// dropped without a break
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

func between(rs []rune, i int, ok func(rune) bool) bool {
	return i > 0 && i < len(rs)-1 && ok(rs[i-1]) && ok(rs[i+1])
}

func isAlnum(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

// stem applies Porter2 to purely alphabetic words. Words with digits are
// codes or measurements and are kept verbatim; hyphenated words are stemmed
// segment by segment.
func stem(w string) string {
	if strings.ContainsAny(w, "0123456789") {
		return w
	}
	if !strings.Contains(w, "-") {
		return english.Stem(w, true)
	}
	parts := strings.Split(w, "-")
	for i, p := range parts {
		parts[i] = english.Stem(p, true)
	}
	return strings.Join(parts, "-")
}
