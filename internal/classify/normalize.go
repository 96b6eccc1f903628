package classify

import "sort"

// Normalize post-processes raw model scores: zero-score entries are
// dropped, the remainder is scaled so probabilities sum to one, and the
// result is ordered by descending probability.
func Normalize(preds []Prediction) []Prediction {
	var total float64
	kept := make([]Prediction, 0, len(preds))
	for _, p := range preds {
		if p.Probability == 0 {
			continue
		}
		kept = append(kept, p)
		total += p.Probability
	}

	if total > 0 {
		for i := range kept {
			kept[i].Probability /= total
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Probability > kept[j].Probability
	})
	return kept
}
