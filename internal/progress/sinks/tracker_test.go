package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pncplab/harvester/internal/progress"
)

func TestTrackerFoldsRunLifecycle(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	runID := uuid.New()
	start := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	evt := func(stage progress.Stage, offset time.Duration) progress.Event {
		return progress.Event{
			RunID: progress.UUIDToBytes(runID),
			TS:    start.Add(offset),
			Stage: stage,
		}
	}

	batch := evt(progress.StagePageBatch, time.Minute)
	batch.Records = 40
	batch.Inserted = 12

	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{
		evt(progress.StageRunStart, 0),
		batch,
		evt(progress.StageRunDone, 2*time.Minute),
	}))

	status := tracker.Snapshot()
	require.Equal(t, runID.String(), status.RunID)
	require.Equal(t, start, status.StartedAt)
	require.Equal(t, start.Add(2*time.Minute), status.UpdatedAt)
	require.Equal(t, 1, status.Batches)
	require.Equal(t, 40, status.RecordsSeen)
	require.Equal(t, 12, status.NoticesInserted)
	require.True(t, status.Done)
	require.Empty(t, status.Error)
}

func TestTrackerRunStartResets(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	first := progress.Event{
		RunID:    progress.UUIDToBytes(uuid.New()),
		TS:       time.Now().UTC(),
		Stage:    progress.StagePageBatch,
		Records:  10,
		Inserted: 3,
	}
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{first}))

	next := uuid.New()
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(next),
		TS:    time.Now().UTC(),
		Stage: progress.StageRunStart,
	}}))

	status := tracker.Snapshot()
	require.Equal(t, next.String(), status.RunID)
	require.Zero(t, status.Batches)
	require.Zero(t, status.RecordsSeen)
	require.False(t, status.Done)
}

func TestTrackerRunErrorRecordsNote(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(uuid.New()),
		TS:    time.Now().UTC(),
		Stage: progress.StageRunError,
		Note:  "db down",
	}}))

	status := tracker.Snapshot()
	require.True(t, status.Done)
	require.Equal(t, "db down", status.Error)
}
