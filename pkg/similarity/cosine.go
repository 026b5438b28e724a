package similarity

import (
	"math"
	"strings"
)

// Cosine returns the cosine of the angle between vecA and vecB. A zero-norm
// vector on either side yields 0, as do vectors of different length.
func Cosine(vecA, vecB []float64) float64 {
	if len(vecA) != len(vecB) {
		return 0
	}

	var dot, sumA, sumB float64
	for i := range vecA {
		dot += vecA[i] * vecB[i]
		sumA += vecA[i] * vecA[i]
		sumB += vecB[i] * vecB[i]
	}

	normA := math.Sqrt(sumA)
	normB := math.Sqrt(sumB)
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (normA * normB)
}

// Similarity scores docA against docB in [0,1]. Either document being empty
// short-circuits to 0.
func Similarity(docA, docB string) float64 {
	if strings.TrimSpace(docA) == "" || strings.TrimSpace(docB) == "" {
		return 0
	}

	vecA, vecB := BuildVectors(docA, docB)
	score := Cosine(vecA, vecB)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
