package classify

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	preds := Normalize([]Prediction{
		{Label: "cat", Probability: 2},
		{Label: "fish", Probability: 0},
		{Label: "dog", Probability: 6},
	})

	if len(preds) != 2 {
		t.Fatalf("Expected zero-score entries dropped, got %+v", preds)
	}
	if preds[0].Label != "dog" || preds[1].Label != "cat" {
		t.Errorf("Expected descending order, got %+v", preds)
	}
	if math.Abs(preds[0].Probability-0.75) > 1e-9 {
		t.Errorf("Expected 0.75, got %v", preds[0].Probability)
	}
	if math.Abs(preds[1].Probability-0.25) > 1e-9 {
		t.Errorf("Expected 0.25, got %v", preds[1].Probability)
	}

	var sum float64
	for _, p := range preds {
		sum += p.Probability
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Expected probabilities to sum to 1, got %v", sum)
	}
}

func TestNormalize_AllZero(t *testing.T) {
	t.Parallel()

	preds := Normalize([]Prediction{
		{Label: "cat", Probability: 0},
		{Label: "dog", Probability: 0},
	})
	if len(preds) != 0 {
		t.Errorf("Expected empty result, got %+v", preds)
	}
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	if preds := Normalize(nil); len(preds) != 0 {
		t.Errorf("Expected empty result, got %+v", preds)
	}
}

func TestNormalize_PreservesOrderForTies(t *testing.T) {
	t.Parallel()

	preds := Normalize([]Prediction{
		{Label: "first", Probability: 1},
		{Label: "second", Probability: 1},
	})
	if preds[0].Label != "first" || preds[1].Label != "second" {
		t.Errorf("Expected stable order for equal scores, got %+v", preds)
	}
}
