package textnorm

// defaultStopWords are English function words with no diagnostic value.
// Negation and qualifier words ("no", "not", "with", "without", "type",
// "acute", "chronic") appear in ICD-10 descriptions and must stay.
var defaultStopWords = []string{
	"a", "about", "above", "after", "again", "all", "also", "am", "an", "and",
	"any", "are", "as", "at", "be", "been", "before", "being", "below", "between",
	"both", "but", "by", "can", "could", "did", "do", "does", "doing", "during",
	"each", "for", "from", "further", "had", "has", "have", "having", "he", "her",
	"here", "hers", "herself", "him", "himself", "his", "how", "i", "if", "in",
	"into", "is", "it", "its", "itself", "just", "me", "more", "most", "my",
	"myself", "of", "on", "once", "only", "or", "other", "our", "ours", "out",
	"over", "own", "same", "she", "should", "so", "some", "such", "than", "that",
	"the", "their", "theirs", "them", "themselves", "then", "there", "these",
	"they", "this", "those", "through", "to", "too", "under", "until", "up",
	"very", "was", "we", "were", "what", "when", "where", "which", "while", "who",
	"whom", "why", "will", "would", "you", "your", "yours", "yourself",
}

// DefaultStopWords returns a copy of the default stop-word list.
func DefaultStopWords() []string {
	out := make([]string, len(defaultStopWords))
	copy(out, defaultStopWords)
	return out
}
