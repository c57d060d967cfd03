package recognizer

import "math"

// decision is the outcome of gating one probability vector against the
// vote history that already includes its top-1 vote.
type decision struct {
	top           int
	topProb       float64
	secondProb    float64
	majority      int
	majorityCount int
	required      int
	confident     bool
	stable        bool
}

func (d decision) accepted() bool {
	return d.confident && d.stable
}

// decide applies the confidence, margin and majority-vote gates.
func decide(cfg Config, probs []float64, votes []int) decision {
	top, topProb, second := topTwo(probs)
	maj, count := majority(votes, top)
	required := requiredCount(cfg.StabilityRatio, len(votes))

	return decision{
		top:           top,
		topProb:       topProb,
		secondProb:    second,
		majority:      maj,
		majorityCount: count,
		required:      required,
		confident:     topProb >= cfg.Threshold && topProb-second >= cfg.MarginThreshold,
		stable:        maj == top && count >= required,
	}
}

// topTwo returns the argmax of probs, its value and the runner-up value.
// The first index wins ties. With a single class the runner-up is 0.
func topTwo(probs []float64) (int, float64, float64) {
	if len(probs) == 0 {
		return -1, 0, 0
	}

	top := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[top] {
			top = i
		}
	}

	second := 0.0
	for i, p := range probs {
		if i != top && p > second {
			second = p
		}
	}
	return top, probs[top], second
}

// majority returns the most frequent label in votes and its count.
//
// Ties: prefer wins when it shares the highest count. Otherwise the tied
// label that was recorded most recently wins.
func majority(votes []int, prefer int) (int, int) {
	if len(votes) == 0 {
		return -1, 0
	}

	counts := make(map[int]int, len(votes))
	best := 0
	for _, v := range votes {
		counts[v]++
		best = max(best, counts[v])
	}

	if counts[prefer] == best {
		return prefer, best
	}
	for i := len(votes) - 1; i >= 0; i-- {
		if counts[votes[i]] == best {
			return votes[i], best
		}
	}
	return -1, 0
}

// requiredCount is ceil(ratio * max(1, n)), never less than 1.
func requiredCount(ratio float64, n int) int {
	n = max(n, 1)
	// The epsilon keeps products like 0.7*10 from rounding up to 8.
	req := int(math.Ceil(ratio*float64(n) - 1e-9))
	return max(req, 1)
}

// roundConfidence rounds p to two decimal places.
func roundConfidence(p float64) float64 {
	return math.Round(p*100) / 100
}
