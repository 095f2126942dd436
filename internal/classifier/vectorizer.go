package classifier

import (
	"math"
	"sort"
	"strings"
)

// Vectorizer is a character-n-gram TF-IDF vectorizer over boundary-aware
// n-grams: each whitespace-separated token is padded with a single space on
// both sides and n-grams are taken inside the padded token only, so grams
// never span token boundaries. Read-only after Fit.
type Vectorizer struct {
	NgramMin   int            `json:"ngram_min"`
	NgramMax   int            `json:"ngram_max"`
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
}

// NewVectorizer returns an unfitted vectorizer with the given n-gram range.
func NewVectorizer(minN, maxN int) *Vectorizer {
	return &Vectorizer{NgramMin: minN, NgramMax: maxN}
}

// analyze lower-cases text and emits its boundary-aware char n-grams.
// A token shorter than n contributes its padded form exactly once.
func (v *Vectorizer) analyze(text string) []string {
	var grams []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		padded := []rune(" " + word + " ")
		for n := v.NgramMin; n <= v.NgramMax; n++ {
			offset := 0
			grams = append(grams, string(padded[offset:min(offset+n, len(padded))]))
			for offset+n < len(padded) {
				offset++
				grams = append(grams, string(padded[offset:offset+n]))
			}
			if offset == 0 {
				break
			}
		}
	}
	return grams
}

// Fit builds the vocabulary and IDF weights from the training documents.
func (v *Vectorizer) Fit(docs []string) {
	df := map[string]int{}
	for _, doc := range docs {
		seen := map[string]struct{}{}
		for _, g := range v.analyze(doc) {
			seen[g] = struct{}{}
		}
		for g := range seen {
			df[g]++
		}
	}

	terms := make([]string, 0, len(df))
	for g := range df {
		terms = append(terms, g)
	}
	sort.Strings(terms)

	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	n := float64(len(docs))
	for i, g := range terms {
		v.Vocabulary[g] = i
		// Smoothed IDF: ln((1+n)/(1+df)) + 1.
		v.IDF[i] = math.Log((1+n)/(1+float64(df[g]))) + 1
	}
}

// Transform maps a document to its L2-normalised sparse TF-IDF vector,
// keyed by vocabulary index. Unknown n-grams are ignored.
func (v *Vectorizer) Transform(doc string) map[int]float64 {
	vec := map[int]float64{}
	for _, g := range v.analyze(doc) {
		if idx, ok := v.Vocabulary[g]; ok {
			vec[idx]++
		}
	}
	var norm float64
	for idx := range vec {
		vec[idx] *= v.IDF[idx]
		norm += vec[idx] * vec[idx]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

// Dim is the vocabulary size.
func (v *Vectorizer) Dim() int { return len(v.IDF) }
