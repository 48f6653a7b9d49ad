package stats

import "sort"

// ScoreComparison relates the per-dataset scores of two runs over the
// datasets both of them scored.
type ScoreComparison struct {
	Shared []string           `json:"shared"`
	Deltas map[string]float64 `json:"deltas"`
	// GT: every shared score of A is >= B's and their sum is larger.
	GT bool `json:"gt"`
	LT bool `json:"lt"`
	EQ bool `json:"eq"`
}

func CompareScores(a, b map[string]float64) ScoreComparison {
	shared := make([]string, 0, len(a))
	for key := range a {
		if _, ok := b[key]; ok {
			shared = append(shared, key)
		}
	}
	sort.Strings(shared)

	va := make([]float64, len(shared))
	vb := make([]float64, len(shared))
	deltas := make(map[string]float64, len(shared))
	for i, key := range shared {
		va[i], vb[i] = a[key], b[key]
		deltas[key] = a[key] - b[key]
	}
	return ScoreComparison{
		Shared: shared,
		Deltas: deltas,
		GT:     vectorGT(va, vb),
		LT:     vectorLT(va, vb),
		EQ:     len(shared) > 0 && vectorEQ(va, vb),
	}
}

func vectorGT(v1, v2 []float64) bool {
	if v2 == nil || len(v1) != len(v2) {
		return false
	}
	acc := 0.0
	for i := range v1 {
		if v1[i] < v2[i] {
			return false
		}
		acc += v1[i] - v2[i]
	}
	return acc > 0
}

func vectorLT(v1, v2 []float64) bool {
	if v2 == nil || len(v1) != len(v2) {
		return false
	}
	acc := 0.0
	for i := range v1 {
		if v1[i] > v2[i] {
			return false
		}
		acc += v1[i] - v2[i]
	}
	return acc < 0
}

func vectorEQ(v1, v2 []float64) bool {
	if v2 == nil || len(v1) != len(v2) {
		return false
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			return false
		}
	}
	return true
}
