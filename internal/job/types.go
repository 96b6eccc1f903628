// Package job implements the classification job lifecycle: the state
// machine, the TTL-bound record store, submission and retry, and the live
// status streamer.
package job

// Status is a job's lifecycle state.
type Status string

// Lifecycle states. A job moves queued -> processing -> completed|failed
// within one attempt; a retry moves a failed job back to queued.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition occurs from s.
// A failed job can still be re-queued, but only by an explicit retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from one state to another is a legal
// lifecycle transition.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusQueued // retry
	default:
		return false
	}
}

// Prediction is one classifier result: a label and its probability.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Failure records why an attempt failed. Detail holds operator-facing
// diagnostics (stack traces, upstream responses) and is never serialized
// over the API boundary.
type Failure struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Task is a unit of work handed to the queue: the job identity plus the
// payload for this attempt. The payload is not persisted; a retry supplies
// a fresh one.
type Task struct {
	ID      string
	Payload []byte
}

// SubmitResponse is returned when a job is created or retried.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Snapshot is the external view of a job at one instant. Results are
// present only for completed jobs, Error only for failed ones, and Error
// carries the short message, never the diagnostic detail.
type Snapshot struct {
	ID      string       `json:"id"`
	Status  Status       `json:"status"`
	Results []Prediction `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}
