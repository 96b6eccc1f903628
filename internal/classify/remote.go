package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"classifier/pkg/backoff"
	"classifier/pkg/circuitbreaker"
)

// defaultMaxRetries is how many times a failed inference call is retried
// before giving up. Client errors (4xx) are never retried.
const defaultMaxRetries = 2

// maxErrorBodySize caps how much of an upstream error body is kept as
// diagnostic detail.
const maxErrorBodySize = 4 << 10

// Remote classifies images by POSTing them to an inference endpoint that
// responds with a JSON array of label/probability pairs. A circuit breaker
// makes a dead model server fail fast instead of eating the worker's
// execution budget.
type Remote struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	retries int
}

// RemoteOption configures a Remote classifier.
type RemoteOption func(*Remote)

// WithMaxRetries sets how many retries follow a retryable failure.
func WithMaxRetries(n int) RemoteOption {
	return func(r *Remote) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) RemoteOption {
	return func(r *Remote) { r.breaker = b }
}

// NewRemote creates a classifier client for the given inference URL.
func NewRemote(url string, timeout time.Duration, opts ...RemoteOption) *Remote {
	r := &Remote{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify sends the image to the model server and returns its normalized
// predictions.
func (r *Remote) Classify(ctx context.Context, payload []byte) ([]Prediction, error) {
	if !r.breaker.Allow() {
		return nil, &UpstreamError{
			Message: "model server unavailable",
			Detail:  fmt.Sprintf("circuit breaker open for %s", r.url),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				// The caller gave up; that says nothing about the
				// server's health.
				return nil, ctx.Err()
			case <-time.After(backoff.Exponential(attempt, nil)):
			}
		}

		preds, err := r.infer(ctx, payload)
		if err == nil {
			r.breaker.RecordSuccess()
			return Normalize(preds), nil
		}
		lastErr = err

		// The model rejected this input; retrying the same bytes is pointless.
		var he *HTTPError
		if errors.As(err, &he) && he.IsClient() {
			r.breaker.RecordSuccess() // the server is alive and answering
			return nil, &UpstreamError{
				Message: he.Message(),
				Detail:  fmt.Sprintf("POST %s: HTTP %d: %s", r.url, he.StatusCode, he.Body),
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Cancellation reflects the caller's deadline, not server health;
	// only genuine request failures count against the breaker.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	r.breaker.RecordFailure()
	return nil, &UpstreamError{
		Message: "classification request failed",
		Detail:  fmt.Sprintf("POST %s: %v", r.url, lastErr),
	}
}

// infer performs one inference round-trip.
func (r *Remote) infer(ctx context.Context, payload []byte) ([]Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var preds []Prediction
	if err := json.NewDecoder(resp.Body).Decode(&preds); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return preds, nil
}

// HTTPError represents a non-2xx inference response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsClient returns true for 4xx responses (shouldn't retry).
func (e *HTTPError) IsClient() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Message returns a short caller-facing description of the rejection.
func (e *HTTPError) Message() string {
	if e.StatusCode == http.StatusUnsupportedMediaType || e.StatusCode == http.StatusBadRequest {
		return "model server rejected the image"
	}
	return fmt.Sprintf("model server returned HTTP %d", e.StatusCode)
}

// Verify Remote implements Classifier
var _ Classifier = (*Remote)(nil)
