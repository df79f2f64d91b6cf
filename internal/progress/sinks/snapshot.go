package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
)

// StageSnapshot is the latest known state of one stage.
type StageSnapshot struct {
	Stage    string        `json:"stage"`
	State    string        `json:"state"`
	Records  int64         `json:"records"`
	Duration time.Duration `json:"duration_ns"`
	Note     string        `json:"note,omitempty"`
}

// RunSnapshot is the latest known state of a run.
type RunSnapshot struct {
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Pages      int             `json:"pages"`
	Stages     []StageSnapshot `json:"stages"`
}

// Stage states reported in snapshots.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
	StatusActive = "Running"
)

// SnapshotSink folds events into the most recent run's snapshot.
type SnapshotSink struct {
	mu     sync.RWMutex
	latest *RunSnapshot
}

// NewSnapshotSink returns an empty snapshot sink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{}
}

// Consume applies batch to the snapshot. A RUN_START for a new run id
// replaces the previous snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Kind == progress.KindRunStart {
			s.latest = &RunSnapshot{RunID: evt.RunID, Status: StatusActive, StartedAt: evt.TS}
			continue
		}
		if s.latest == nil || s.latest.RunID != evt.RunID {
			continue
		}
		switch evt.Kind {
		case progress.KindRunDone:
			s.latest.Status = evt.Status
			ts := evt.TS
			s.latest.FinishedAt = &ts
		case progress.KindPage:
			if evt.Page > s.latest.Pages {
				s.latest.Pages = evt.Page
			}
		case progress.KindStageStart:
			s.stage(evt.Stage).State = StateRunning
		case progress.KindStageDone:
			st := s.stage(evt.Stage)
			st.State = StateDone
			st.Records = evt.Records
			st.Duration = evt.Dur
			st.Note = evt.Note
		case progress.KindStageError:
			st := s.stage(evt.Stage)
			st.State = StateFailed
			st.Duration = evt.Dur
			st.Note = evt.Note
		}
	}
	return nil
}

func (s *SnapshotSink) stage(name string) *StageSnapshot {
	for i := range s.latest.Stages {
		if s.latest.Stages[i].Stage == name {
			return &s.latest.Stages[i]
		}
	}
	s.latest.Stages = append(s.latest.Stages, StageSnapshot{Stage: name})
	return &s.latest.Stages[len(s.latest.Stages)-1]
}

// Latest returns a copy of the current snapshot.
func (s *SnapshotSink) Latest() (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return RunSnapshot{}, false
	}
	out := *s.latest
	out.Stages = append([]StageSnapshot(nil), s.latest.Stages...)
	return out, true
}

// Close implements progress.Sink.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
