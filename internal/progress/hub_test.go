package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(stageEvent(KindStageStart, StageExtract))
	hub.Emit(stageEvent(KindStageDone, StageExtract))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(stageEvent(KindStageStart, StageBronze))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(stageEvent(KindStageStart, StageSilver))
	hub.Emit(stageEvent(KindStageStart, StageSilver))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.dropped.Load(), "first drop is logged and reset, second is counted")
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(stageEvent(KindStageDone, StageGold))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.closed)

	hub.Emit(stageEvent(KindStageDone, StageGold))
	require.Len(t, sink.Batches(), 1, "emits after close are ignored")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(Config{}, sink)
	hub.Emit(Event{Kind: KindRunStart, TS: time.Now()})
	hub.Emit(Event{RunID: "run_1", Kind: KindRunDone, TS: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(stageEvent(KindStageStart, StageModels))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.NoError(t, Event{RunID: "r", TS: now, Kind: KindRunStart}.Validate())
	require.NoError(t, Event{RunID: "r", TS: now, Kind: KindRunDone, Status: "Success"}.Validate())
	require.Error(t, Event{RunID: "r", TS: now, Kind: KindPage}.Validate())
	require.Error(t, Event{RunID: "r", TS: now, Kind: "BOGUS"}.Validate())
	require.Error(t, Event{RunID: "r", TS: now, Kind: KindStageDone, Stage: StageBronze, Dur: -1}.Validate())
	require.Error(t, Event{RunID: "r", Kind: KindRunStart}.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func stageEvent(kind Kind, stage string) Event {
	return Event{RunID: "run_20250301_120000_abcd1234", TS: time.Now(), Kind: kind, Stage: stage}
}
