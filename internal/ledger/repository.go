// Package ledger records the state of every file transfer of a download run.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/OceanOptics/getOC/internal/download"
)

// ErrNotFound is returned when no entry matches the run and file name.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is the latest known state of one file within a run.
type Entry struct {
	RunID     string         `json:"run_id"`
	Platform  string         `json:"platform"`
	Name      string         `json:"name"`
	URL       string         `json:"url"`
	State     download.State `json:"state"`
	Attempts  int            `json:"attempts"`
	Bytes     int64          `json:"bytes"`
	Expected  int64          `json:"expected"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Repository defines the interface for ledger persistence.
// It satisfies download.Recorder.
type Repository interface {
	// Record inserts or updates the entry keyed by run id and file name.
	Record(ctx context.Context, t download.Transfer) error

	// Get retrieves one entry.
	Get(ctx context.Context, runID, name string) (*Entry, error)

	// ListByRun returns the entries of a run ordered by creation.
	ListByRun(ctx context.Context, runID string) ([]*Entry, error)

	// Close releases the underlying storage.
	Close() error
}

func entryFromTransfer(t download.Transfer) *Entry {
	updated := t.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return &Entry{
		RunID:     t.RunID,
		Platform:  t.Platform,
		Name:      t.Name,
		URL:       t.URL,
		State:     t.State,
		Attempts:  t.Attempts,
		Bytes:     t.Bytes,
		Expected:  t.Expected,
		Error:     t.Error,
		CreatedAt: updated.UTC(),
		UpdatedAt: updated.UTC(),
	}
}

// Summarize counts the entries of a run per state.
func Summarize(entries []*Entry) map[download.State]int {
	counts := make(map[download.State]int, 4)
	for _, e := range entries {
		counts[e.State]++
	}
	return counts
}
