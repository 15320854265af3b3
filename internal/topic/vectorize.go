package topic

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// vector is a sparse, L2-normalized TF-IDF vector keyed by term.
type vector map[string]float64

// tokenize lower-cases text and splits it into word tokens of at least two
// characters, dropping stopwords.
func tokenize(text string) []string {
	var tokens []string
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// vectorize fits a TF-IDF model over docs and returns one vector per doc.
// IDF is smoothed as ln((1+n)/(1+df))+1. When the vocabulary exceeds
// maxFeatures, the most frequent terms are kept (ties by term).
func vectorize(docs []string, maxFeatures int) []vector {
	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	total := make(map[string]int)

	for i, doc := range docs {
		tf := make(map[string]int)
		for _, tok := range tokenize(doc) {
			tf[tok]++
			total[tok]++
		}
		for term := range tf {
			df[term]++
		}
		counts[i] = tf
	}

	vocab := make(map[string]struct{}, len(total))
	if maxFeatures > 0 && len(total) > maxFeatures {
		terms := make([]string, 0, len(total))
		for term := range total {
			terms = append(terms, term)
		}
		sort.Slice(terms, func(a, b int) bool {
			if total[terms[a]] != total[terms[b]] {
				return total[terms[a]] > total[terms[b]]
			}
			return terms[a] < terms[b]
		})
		for _, term := range terms[:maxFeatures] {
			vocab[term] = struct{}{}
		}
	} else {
		for term := range total {
			vocab[term] = struct{}{}
		}
	}

	n := float64(len(docs))
	out := make([]vector, len(docs))
	for i, tf := range counts {
		v := make(vector, len(tf))
		for _, term := range sortedTerms(tf) {
			if _, ok := vocab[term]; !ok {
				continue
			}
			idf := math.Log((1+n)/(1+float64(df[term]))) + 1
			v[term] = float64(tf[term]) * idf
		}
		normalize(v)
		out[i] = v
	}
	return out
}

func normalize(v vector) {
	var sum float64
	for _, term := range sortedTerms(v) {
		sum += v[term] * v[term]
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for term := range v {
		v[term] /= norm
	}
}

// cosine of two normalized vectors. Terms are visited in sorted order so the
// floating point sum is identical across runs.
func cosine(a, b vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for _, term := range sortedTerms(a) {
		dot += a[term] * b[term]
	}
	return dot
}

// keywords returns the n terms with the highest summed weight across vs.
func keywords(vs []vector, n int) []string {
	sum := make(map[string]float64)
	for _, v := range vs {
		for _, term := range sortedTerms(v) {
			sum[term] += v[term]
		}
	}
	terms := sortedTerms(sum)
	sort.SliceStable(terms, func(a, b int) bool {
		return sum[terms[a]] > sum[terms[b]]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

func sortedTerms[V any](m map[string]V) []string {
	terms := make([]string, 0, len(m))
	for term := range m {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
