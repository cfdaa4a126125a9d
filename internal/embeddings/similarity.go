package embeddings

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	x, y := toFloat64(a), toFloat64(b)
	normA, normB := floats.Norm(x, 2), floats.Norm(y, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(floats.Dot(x, y) / (normA * normB))
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// TopK returns indices of the k vectors most similar to query, best
// first. Equal scores keep their input order.
func TopK(query []float32, vectors [][]float32, k int) []int {
	type scored struct {
		idx   int
		score float32
	}

	scores := make([]scored, len(vectors))
	for i, v := range vectors {
		scores[i] = scored{idx: i, score: CosineSimilarity(query, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if k > len(scores) {
		k = len(scores)
	}
	result := make([]int, 0, k)
	for _, s := range scores[:k] {
		result = append(result, s.idx)
	}
	return result
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
