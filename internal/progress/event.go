package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindRunStart   Kind = "RUN_START"
	KindRunDone    Kind = "RUN_DONE"
	KindStageStart Kind = "STAGE_START"
	KindStageDone  Kind = "STAGE_DONE"
	KindStageError Kind = "STAGE_ERROR"
	KindPage       Kind = "PAGE_FETCHED"
)

// Pipeline stage names.
const (
	StageModels    = "models"
	StageExtract   = "extract"
	StageTransform = "transform"
	StageBronze    = "bronze"
	StageSilver    = "silver"
	StageGold      = "gold"
	StageNotify    = "notify"
)

// Event captures one pipeline milestone.
type Event struct {
	// RunID is the pipeline run identifier (run_YYYYMMDD_HHMMSS_xxxxxxxx).
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS   time.Time
	Kind Kind
	// Stage names the pipeline step for stage and page events.
	Stage string
	// Status is the run outcome on RUN_DONE (Success, Partial, Failed).
	Status string
	// Records counts rows a stage produced or consumed.
	Records int64
	// Page is the 1-based page number on PAGE_FETCHED.
	Page int
	Dur  time.Duration
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
	switch e.Kind {
	case KindRunStart:
	case KindRunDone:
		if e.Status == "" {
			return errors.New("run done requires status")
		}
	case KindStageStart, KindStageDone, KindStageError, KindPage:
		if e.Stage == "" {
			return fmt.Errorf("%s requires stage", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Records < 0 {
		return errors.New("records must be >= 0")
	}
	return nil
}
