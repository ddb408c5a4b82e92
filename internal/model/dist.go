package model

import (
	"fmt"
	"math"
	"math/rand"
)

// maskedSoftmax converts one head's logits into a probability distribution,
// assigning zero probability to masked-out actions. Fails if the mask
// leaves no legal action.
func maskedSoftmax(logits []float32, mask []bool) ([]float64, error) {
	maxLogit := math.Inf(-1)
	legal := 0
	for i, m := range mask {
		if !m {
			continue
		}
		legal++
		if float64(logits[i]) > maxLogit {
			maxLogit = float64(logits[i])
		}
	}
	if legal == 0 {
		return nil, fmt.Errorf("action mask leaves no legal action")
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, m := range mask {
		if !m {
			continue
		}
		// Shift by the max logit for numerical stability.
		probs[i] = math.Exp(float64(logits[i]) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs, nil
}

// sampleIndex draws an index from the distribution.
func sampleIndex(probs []float64, rng *rand.Rand) int {
	target := rng.Float64()
	var cumulative float64
	last := 0
	for i, p := range probs {
		if p == 0 {
			continue
		}
		last = i
		cumulative += p
		if target < cumulative {
			return i
		}
	}
	// Rounding can leave the cumulative sum a hair under 1; fall back to
	// the last legal action.
	return last
}

// argmaxIndex returns the index of the highest-probability action.
func argmaxIndex(probs []float64) int {
	best := 0
	bestProb := math.Inf(-1)
	for i, p := range probs {
		if p > bestProb {
			best = i
			bestProb = p
		}
	}
	return best
}

// logOf is the log probability of a chosen action. Chosen actions always
// have positive probability, so the result is finite.
func logOf(p float64) float64 {
	return math.Log(p)
}

// entropyOf computes the Shannon entropy of the distribution in nats.
func entropyOf(probs []float64) float64 {
	var h float64
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

// splitHeads validates that the head sizes cover the flat mask exactly and
// returns the cumulative head boundaries [0, s0, s0+s1, ...].
func splitHeads(headSizes []int, total int) ([]int, error) {
	bounds := make([]int, len(headSizes)+1)
	for i, size := range headSizes {
		if size <= 0 {
			return nil, fmt.Errorf("head %d has invalid size %d", i, size)
		}
		bounds[i+1] = bounds[i] + size
	}
	if bounds[len(headSizes)] != total {
		return nil, fmt.Errorf("action mask length %d does not match head sizes summing to %d",
			total, bounds[len(headSizes)])
	}
	return bounds, nil
}
