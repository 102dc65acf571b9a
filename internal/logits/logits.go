// Package logits turns raw model logits into probabilities.
package logits

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// LogSoftmax returns log(softmax(row)) computed as row - logsumexp(row).
func LogSoftmax(row []float32) []float64 {
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = float64(v)
	}
	if len(out) == 0 {
		return out
	}
	lse := floats.LogSumExp(out)
	floats.AddConst(-lse, out)
	return out
}

// LogProb returns log p(id) under softmax(row).
func LogProb(row []float32, id int) (float64, error) {
	if id < 0 || id >= len(row) {
		return 0, fmt.Errorf("token id %d outside vocabulary of size %d", id, len(row))
	}
	lp := LogSoftmax(row)[id]
	if lp > 0 {
		// Rounding can push a near-certain token just above zero.
		lp = 0
	}
	return lp, nil
}
