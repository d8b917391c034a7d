package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageEntryDone Stage = "ENTRY_DONE"
	StageRunDone   Stage = "RUN_DONE"
)

// Outcome classifies a finished entry or run.
type Outcome string

// Entry outcomes.
const (
	OutcomeCaptured Outcome = "captured"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Run outcomes.
const (
	RunCompleted   Outcome = "completed"
	RunInterrupted Outcome = "interrupted"
	RunAborted     Outcome = "aborted"
)

// Event captures one milestone of a harvest run.
type Event struct {
	RunID string
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// EntryID is set on ENTRY_DONE.
	EntryID int64
	Outcome Outcome
	// State is the page classification of a committed entry.
	State harvest.PageState
	// Step is the failing step of a failed entry.
	Step harvest.Step
	// Total is the number of entries planned, set on RUN_START.
	Total int
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Total < 0 {
			return errors.New("run start total must be >= 0")
		}
	case StageEntryDone:
		if e.EntryID == 0 {
			return errors.New("entry done requires entry id")
		}
		switch e.Outcome {
		case OutcomeCaptured, OutcomeSkipped:
		case OutcomeFailed:
			if e.Step == "" {
				return errors.New("failed entry requires step")
			}
		default:
			return fmt.Errorf("unknown entry outcome %q", e.Outcome)
		}
	case StageRunDone:
		switch e.Outcome {
		case RunCompleted, RunInterrupted, RunAborted:
		default:
			return fmt.Errorf("unknown run outcome %q", e.Outcome)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
