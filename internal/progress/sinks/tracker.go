package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/pncplab/harvester/internal/progress"
)

// RunStatus is a point-in-time summary of the most recent ingestion run.
type RunStatus struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Batches         int       `json:"batches"`
	RecordsSeen     int       `json:"records_seen"`
	NoticesInserted int       `json:"notices_inserted"`
	Done            bool      `json:"done"`
	Error           string    `json:"error,omitempty"`
}

// Tracker folds progress events into a RunStatus snapshot for the API. A new
// RUN_START resets the state, so only the latest run is reported.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Consume applies each event in order.
func (t *Tracker) Consume(_ context.Context, batch []progress.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			t.status = RunStatus{
				RunID:     evt.RunUUID().String(),
				StartedAt: evt.TS,
				UpdatedAt: evt.TS,
			}
		case progress.StagePageBatch:
			t.status.Batches++
			t.status.RecordsSeen += evt.Records
			t.status.NoticesInserted += evt.Inserted
			t.status.UpdatedAt = evt.TS
		case progress.StageNoticeStored:
			t.status.UpdatedAt = evt.TS
		case progress.StageRunDone:
			t.status.Done = true
			t.status.UpdatedAt = evt.TS
		case progress.StageRunError:
			t.status.Done = true
			t.status.Error = evt.Note
			t.status.UpdatedAt = evt.TS
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (t *Tracker) Close(context.Context) error {
	return nil
}

// Snapshot returns a copy of the current run status.
func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
