package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StagePageBatch    Stage = "PAGE_BATCH"
	StageNoticeStored Stage = "NOTICE_STORED"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
)

// Event captures a single milestone of an ingestion run.
type Event struct {
	// RunID uniquely identifies an ingestion run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// ControlNumber scopes NOTICE_STORED events to one notice.
	ControlNumber string
	// Pages counts the search pages covered by a PAGE_BATCH.
	Pages int
	// Records counts raw search results in the batch.
	Records int
	// Inserted counts newly persisted notices in the batch.
	Inserted int
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StagePageBatch, StageRunDone, StageRunError:
	case StageNoticeStored:
		if e.ControlNumber == "" {
			return errors.New("notice stored requires control number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Pages < 0 || e.Records < 0 || e.Inserted < 0 {
		return errors.New("counts must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for presentation.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
