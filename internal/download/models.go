// Package download retrieves matched images to disk with retries, resume and size checks.
package download

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Predefined download errors.
var (
	// ErrIncomplete is returned when fewer bytes than expected were received.
	ErrIncomplete = errors.New("incomplete download")

	// ErrAborted is returned when a batch stops before every file was attempted.
	ErrAborted = errors.New("download aborted")

	// ErrNoURL is returned for an image without a retrieval URL.
	ErrNoURL = errors.New("image has no url")
)

// TempPrefix is prepended to the file name while a transfer is in progress.
const TempPrefix = "tmp_"

// State is the lifecycle stage of one file transfer.
type State string

// Transfer states. PENDING -> IN_PROGRESS -> {COMPLETE, FAILED}.
const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateComplete   State = "COMPLETE"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Transfer is the recorded state of one file.
type Transfer struct {
	RunID    string `json:"run_id"`
	Platform string `json:"platform"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	State    State  `json:"state"`

	// Attempts counts the retry budget consumed so far.
	Attempts int `json:"attempts"`

	// Bytes is the size on disk; Expected the size announced by the server, or -1.
	Bytes    int64 `json:"bytes"`
	Expected int64 `json:"expected"`

	// Skipped is set when an existing file satisfied the request.
	Skipped bool `json:"skipped,omitempty"`

	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recorder persists transfer state transitions.
type Recorder interface {
	Record(ctx context.Context, t Transfer) error
}

// Publisher announces terminal transfers.
type Publisher interface {
	Publish(ctx context.Context, t Transfer) error
}

// StatusError reports a non-2xx download response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}

// Failure names a file that could not be obtained.
type Failure struct {
	Name string
	Err  error
}

// Report summarizes a batch.
type Report struct {
	Requested int
	Completed int
	Skipped   int
	Failed    int
	Bytes     int64
	Failures  []Failure
	Duration  time.Duration
}

// OK reports whether every requested file was obtained.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Completed+r.Skipped == r.Requested
}
