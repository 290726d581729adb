package memory

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// bm25K1 controls term-frequency saturation: repeating a term in one passage
// raises its weight toward k+1 but never past it.
const bm25K1 = 1.2

// encodeTerms hashes the alphanumeric tokens of text into saturated
// term weights. Lexical scoring is the dot product of two such maps.
func encodeTerms(text string) map[uint32]float64 {
	tokens := tokenizeAlphaNum(text)
	if len(tokens) == 0 {
		return nil
	}

	freq := make(map[uint32]float64, len(tokens))
	for _, token := range tokens {
		freq[hashToken(token)]++
	}

	weights := make(map[uint32]float64, len(freq))
	for idx, tf := range freq {
		weight := (tf * (bm25K1 + 1.0)) / (tf + bm25K1)
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			weight = 0
		}
		weights[idx] = weight
	}
	return weights
}

func dotTerms(query, doc map[uint32]float64) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	// Iterate the smaller map.
	if len(doc) < len(query) {
		query, doc = doc, query
	}
	var sum float64
	for idx, qw := range query {
		if dw, ok := doc[idx]; ok {
			sum += qw * dw
		}
	}
	return sum
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
