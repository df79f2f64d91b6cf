package progress

import (
	"context"
	"fmt"
	"time"
)

type countingSink struct {
	records int64
}

func (s *countingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.records += evt.Records
	}
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit emits stage completions and flushes them via Close.
func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := NewHub(Config{MaxBatchWait: time.Second}, sink)

	now := time.Now().UTC()
	hub.Emit(Event{RunID: "run_20250301_120000_abcd1234", TS: now, Kind: KindStageDone, Stage: StageExtract, Records: 120})
	hub.Emit(Event{RunID: "run_20250301_120000_abcd1234", TS: now, Kind: KindStageDone, Stage: StageBronze, Records: 118})

	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}
	fmt.Println("records reported:", sink.records)
	// Output: records reported: 238
}
