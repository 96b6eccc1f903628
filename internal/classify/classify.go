// Package classify defines the classifier contract and a remote
// model-server client implementing it. The service only depends on the
// input/output contract; the numerical method lives behind it.
package classify

import "context"

// Prediction is one classification result.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Classifier turns raw image bytes into an ordered list of predictions, or
// fails with an error describing why.
type Classifier interface {
	Classify(ctx context.Context, payload []byte) ([]Prediction, error)
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, payload []byte) ([]Prediction, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, payload []byte) ([]Prediction, error) {
	return f(ctx, payload)
}

// UpstreamError is a classification failure with operator-facing detail
// that must not leak to API callers. Error() returns only the short
// message.
type UpstreamError struct {
	Message string
	Detail  string
}

// Error returns the short human-readable message.
func (e *UpstreamError) Error() string {
	return e.Message
}
