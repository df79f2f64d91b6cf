package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/bronze"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/clock/system"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/gold"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/models"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/notify"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/publisher/memory"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/sentiment"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/silver"
	blobmem "github.com/JakeFAU/mastodon-medallion-etl/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeModels struct {
	res       models.Result
	schemas   map[string]models.SchemaInfo
	verifyErr error
	verified  *int
}

func (f fakeModels) ApplyAll(context.Context) models.Result { return f.res }

func (f fakeModels) VerifySchemas(context.Context) (map[string]models.SchemaInfo, error) {
	if f.verified != nil {
		*f.verified++
	}
	return f.schemas, f.verifyErr
}

type fakeExtractor struct {
	res crawler.Result
	err error
}

func (f fakeExtractor) Crawl(_ context.Context, tag string, _ crawler.Window) (crawler.Result, error) {
	f.res.Tag = tag
	return f.res, f.err
}

type fakeNormalizer struct{ reject map[string]string }

func (f fakeNormalizer) NormalizeAll(posts []crawler.RawPost) ([]normalize.Record, []normalize.Rejected) {
	var out []normalize.Record
	var rejected []normalize.Rejected
	for _, p := range posts {
		if reason, ok := f.reject[p.ID]; ok {
			rejected = append(rejected, normalize.Rejected{ID: p.ID, Reason: reason})
			continue
		}
		out = append(out, normalize.Record{ID: p.ID, CreatedAt: p.CreatedAt})
	}
	return out, rejected
}

type fakeScorer struct {
	label string
	err   error
}

func (f fakeScorer) Apply(_ context.Context, records []normalize.Record) (sentiment.Stats, error) {
	if f.err != nil {
		return sentiment.Stats{}, f.err
	}
	for i := range records {
		label, score := f.label, 0.9
		records[i].SentimentValue = &label
		records[i].SentimentScore = &score
	}
	return sentiment.Stats{Scored: len(records)}, nil
}

type fakeBronze struct {
	err   error
	calls int
}

func (f *fakeBronze) Append(_ context.Context, records []normalize.Record) (bronze.LoadResult, error) {
	f.calls++
	if f.err != nil {
		return bronze.LoadResult{}, f.err
	}
	return bronze.LoadResult{Rows: int64(len(records)), Method: bronze.MethodCopy}, nil
}

func (f *fakeBronze) Stats(context.Context) (bronze.Stats, error) {
	return bronze.Stats{RowCount: 10, PipelineRuns: 2}, nil
}

type fakeSilver struct {
	err   error
	calls int
}

func (f *fakeSilver) Run(context.Context) (silver.Result, error) {
	f.calls++
	if f.err != nil {
		return silver.Result{}, f.err
	}
	return silver.Result{AccountsInserted: 2, AccountsExpired: 1, Facts: 3}, nil
}

func (f *fakeSilver) Stats(context.Context) (silver.Stats, error) {
	return silver.Stats{}, errors.New("stats unavailable")
}

type fakeGold struct {
	failing string
	calls   int
}

func (f *fakeGold) RefreshAll(context.Context) gold.Result {
	f.calls++
	res := gold.Result{Views: []gold.ViewResult{{View: "hourly_sentiment"}, {View: "daily_sentiment"}}}
	for i := range res.Views {
		if res.Views[i].View == f.failing {
			res.Views[i].Err = errors.New("refresh failed")
		}
	}
	return res
}

func (f *fakeGold) Stats(context.Context) (map[string]gold.ViewStats, error) {
	return map[string]gold.ViewStats{"hourly_sentiment": {Rows: 4, Size: "16 kB"}}, nil
}

type sentSummary struct {
	status     string
	loadFailed bool
	total      int
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []sentSummary
	errors    []string
	positive  int
	negative  int
}

func (f *fakeNotifier) SendSummary(_ context.Context, s notify.Summary, status string, loadFailed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, sentSummary{status: status, loadFailed: loadFailed, total: s.TotalRecords})
	return nil
}

func (f *fakeNotifier) SendError(_ context.Context, stage, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, stage+": "+message)
	return nil
}

func (f *fakeNotifier) SendMostPositive(_ context.Context, records []normalize.Record) error {
	if len(notify.TopByLabel(records, sentiment.LabelPositive, 5)) == 0 {
		return notify.ErrNothingToSend
	}
	f.positive++
	return nil
}

func (f *fakeNotifier) SendMostNegative(_ context.Context, records []normalize.Record) error {
	if len(notify.TopByLabel(records, sentiment.LabelNegative, 5)) == 0 {
		return notify.ErrNothingToSend
	}
	f.negative++
	return nil
}

type events struct {
	mu  sync.Mutex
	all []progress.Event
}

func (e *events) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, evt)
}

func (e *events) kinds(stage string) []progress.Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Kind
	for _, evt := range e.all {
		if evt.Stage == stage {
			out = append(out, evt.Kind)
		}
	}
	return out
}

type recorder struct {
	records  map[string]int
	rejected []string
	loads    []string
	views    map[string]bool
	success  *time.Time
}

func newRecorder() *recorder {
	return &recorder{records: map[string]int{}, views: map[string]bool{}}
}

func (r *recorder) ObserveRecords(stage string, n int) { r.records[stage] += n }
func (r *recorder) ObserveRejected(reason string) { r.rejected = append(r.rejected, reason) }
func (r *recorder) ObserveBronzeLoad(method string) { r.loads = append(r.loads, method) }
func (r *recorder) ObserveAccounts(int, int, int) {}
func (r *recorder) ObserveViewRefresh(view string, ok bool) { r.views[view] = ok }
func (r *recorder) MarkSuccess(at time.Time) { r.success = &at }

func posts(ids ...string) []crawler.RawPost {
	out := make([]crawler.RawPost, 0, len(ids))
	for i, id := range ids {
		out = append(out, crawler.RawPost{ID: id, CreatedAt: testNow.Add(-time.Duration(i) * time.Minute)})
	}
	return out
}

type harness struct {
	deps     Deps
	bronze   *fakeBronze
	silver   *fakeSilver
	gold     *fakeGold
	notifier *fakeNotifier
	events   *events
	metrics  *recorder
	blobs    *blobmem.BlobStore
	pub      *memory.Publisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bronze:   &fakeBronze{},
		silver:   &fakeSilver{},
		gold:     &fakeGold{},
		notifier: &fakeNotifier{},
		events:   &events{},
		metrics:  newRecorder(),
		blobs:    blobmem.NewBlobStore(),
		pub:      memory.New(),
	}
	runs, err := notify.NewRunPublisher(h.pub, "pipeline-runs", zap.NewNop())
	require.NoError(t, err)
	h.deps = Deps{
		Models:    fakeModels{},
		Extractor: fakeExtractor{res: crawler.Result{Posts: posts("3", "2", "1"), Pages: 1, StopReason: crawler.StopExhausted}},
		Normalize: fakeNormalizer{},
		Scorer:    fakeScorer{label: sentiment.LabelPositive},
		Bronze:    h.bronze,
		Silver:    h.silver,
		Gold:      h.gold,
		Notifier:  h.notifier,
		Publisher: runs,
		Fallback:  h.blobs,
		Metrics:   h.metrics,
		Events:    h.events,
		Clock:     system.Fixed{At: testNow},
	}
	return h
}

func (h *harness) run(t *testing.T) Outcome {
	t.Helper()
	r, err := New(h.deps, Config{RunID: "run_20250301_120000_abcd1234", Hashtag: "ai", Window: crawler.Window{Value: 1, Unit: crawler.UnitDays}}, zap.NewNop())
	require.NoError(t, err)
	return r.Run(context.Background())
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out := h.run(t)

	require.Equal(t, StatusSuccess, out.Status)
	require.NoError(t, out.Err)
	assert.Equal(t, 3, out.Records)
	assert.Equal(t, 3, out.Summary.TotalRecords)
	assert.Equal(t, 3, h.metrics.records[progress.StageBronze])
	assert.Equal(t, []string{string(bronze.MethodCopy)}, h.metrics.loads)
	assert.Equal(t, map[string]bool{"hourly_sentiment": true, "daily_sentiment": true}, h.metrics.views)
	require.NotNil(t, h.metrics.success)

	require.Len(t, h.notifier.summaries, 1)
	assert.Equal(t, sentSummary{status: "Success", total: 3}, h.notifier.summaries[0])
	assert.Empty(t, h.notifier.errors)
	assert.Equal(t, 1, h.notifier.positive)
	assert.Equal(t, 0, h.notifier.negative)

	assert.Equal(t, []progress.Kind{progress.KindStageStart, progress.KindStageDone}, h.events.kinds(progress.StageSilver))
	first, last := h.events.all[0], h.events.all[len(h.events.all)-1]
	assert.Equal(t, progress.KindRunStart, first.Kind)
	assert.Equal(t, progress.KindRunDone, last.Kind)
	assert.Equal(t, "Success", last.Status)
	for _, evt := range h.events.all {
		require.NoError(t, evt.Validate())
	}

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Success", msgs[0].Attributes["status"])
	assert.Empty(t, h.blobs.Names())
}

func TestRunPartialWhenGoldDegraded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gold.failing = "daily_sentiment"
	out := h.run(t)

	require.Equal(t, StatusPartial, out.Status)
	require.NoError(t, out.Err)
	assert.False(t, h.metrics.views["daily_sentiment"])
	assert.Equal(t, []progress.Kind{progress.KindStageStart, progress.KindStageError}, h.events.kinds(progress.StageGold))
	require.Len(t, h.notifier.summaries, 1)
	assert.Equal(t, "Partial", h.notifier.summaries[0].status)
	assert.NotNil(t, h.metrics.success)
}

func TestRunBronzeFailureWritesFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.bronze.err = errors.New("connection refused")
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorContains(t, out.Err, "connection refused")
	assert.Zero(t, h.silver.calls)
	assert.Zero(t, h.gold.calls)
	assert.Nil(t, h.metrics.success)

	name := bronze.FallbackFileName(testNow)
	assert.Equal(t, "memory://"+name, out.FallbackURI)
	data, ok := h.blobs.Object(name)
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)

	require.Len(t, h.notifier.summaries, 1)
	assert.True(t, h.notifier.summaries[0].loadFailed)
	require.Len(t, h.notifier.errors, 1)
	assert.Contains(t, h.notifier.errors[0], "Bronze Load")

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Failed", msgs[0].Attributes["status"])
	assert.Contains(t, string(msgs[0].Data), "connection refused")
}

func TestRunFailsWithoutData(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Extractor = fakeExtractor{res: crawler.Result{StopReason: crawler.StopEmpty}}
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, ErrNoData)
	assert.Zero(t, h.bronze.calls)
	require.Len(t, h.notifier.errors, 1)
	assert.Empty(t, h.notifier.summaries)
}

func TestRunFailsWhenEveryPostRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Normalize = fakeNormalizer{reject: map[string]string{"1": "missing id", "2": "missing id", "3": "bad timestamp"}}
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, ErrNoData)
	assert.ElementsMatch(t, []string{"missing id", "missing id", "bad timestamp"}, h.metrics.rejected)
}

func TestRunExtractError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Extractor = fakeExtractor{err: errors.New("first page: 503")}
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorContains(t, out.Err, "503")
	assert.Equal(t, []progress.Kind{progress.KindStageStart, progress.KindStageError}, h.events.kinds(progress.StageExtract))
}

func TestRunSilverFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.silver.err = errors.New("lock timeout")
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, h.bronze.calls)
	assert.Zero(t, h.gold.calls)
	require.Len(t, h.notifier.errors, 1)
	assert.Contains(t, h.notifier.errors[0], "Silver ETL")
	assert.Empty(t, h.blobs.Names())
}

func TestRunContinuesAfterModelFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Models = fakeModels{res: models.Result{Layers: []models.LayerResult{
		{Layer: "bronze", Files: []models.FileResult{{File: "bronze/001_tables.sql", Err: errors.New("syntax error")}}},
	}}}
	out := h.run(t)

	require.Equal(t, StatusSuccess, out.Status)
	require.NotEmpty(t, out.Stages)
	assert.Equal(t, progress.StageModels, out.Stages[0].Stage)
	assert.False(t, out.Stages[0].OK)
	assert.Contains(t, out.Stages[0].Detail, "bronze/001_tables.sql")
}

func TestRunLogsSchemasAfterApplyingModels(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	verified := 0
	h.deps.Models = fakeModels{
		verified: &verified,
		schemas: map[string]models.SchemaInfo{
			"bronze": {Exists: true, Tables: 1},
			"gold":   {Exists: false},
			"silver": {Exists: true, Tables: 5},
		},
	}
	core, logs := observer.New(zap.InfoLevel)
	r, err := New(h.deps, Config{RunID: "run_20250301_120000_abcd1234", Hashtag: "ai", Window: crawler.Window{Value: 1, Unit: crawler.UnitDays}}, zap.New(core))
	require.NoError(t, err)
	out := r.Run(context.Background())

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, verified)
	verifiedLogs := logs.FilterMessage("schema verified").All()
	require.Len(t, verifiedLogs, 2)
	assert.Equal(t, "bronze", verifiedLogs[0].ContextMap()["schema"])
	assert.Equal(t, int64(5), verifiedLogs[1].ContextMap()["tables"])
	missing := logs.FilterMessage("schema missing after model apply").All()
	require.Len(t, missing, 1)
	assert.Equal(t, "gold", missing[0].ContextMap()["schema"])
}

func TestRunContinuesWhenSchemaVerificationFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	verified := 0
	h.deps.Models = fakeModels{verified: &verified, verifyErr: errors.New("permission denied")}
	out := h.run(t)

	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, verified)
	assert.True(t, out.Stages[0].OK)
}

func TestRunSentimentError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Scorer = fakeScorer{err: context.Canceled}
	out := h.run(t)

	require.Equal(t, StatusFailed, out.Status)
	require.ErrorIs(t, out.Err, context.Canceled)
	assert.Zero(t, h.bronze.calls)
}

func TestRunWithoutOptionalCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Models = nil
	h.deps.Scorer = nil
	h.deps.Notifier = nil
	h.deps.Publisher = nil
	h.deps.Metrics = nil
	h.deps.Events = nil
	out := h.run(t)
	require.Equal(t, StatusSuccess, out.Status)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := New(h.deps, Config{Hashtag: "ai"}, nil)
	require.Error(t, err)

	deps := h.deps
	deps.Bronze = nil
	_, err = New(deps, Config{RunID: "r", Hashtag: "ai"}, nil)
	require.Error(t, err)
}

func TestPageEvents(t *testing.T) {
	t.Parallel()

	ev := &events{}
	obs := PageEvents{RunID: "r1", Clock: system.Fixed{At: testNow}, Events: ev}
	obs.PageFetched(2, 40, 150*time.Millisecond)
	PageEvents{}.PageFetched(1, 1, time.Second)

	require.Len(t, ev.all, 1)
	evt := ev.all[0]
	assert.Equal(t, progress.KindPage, evt.Kind)
	assert.Equal(t, 2, evt.Page)
	assert.Equal(t, int64(40), evt.Records)
	require.NoError(t, evt.Validate())
}
