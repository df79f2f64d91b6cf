// Package pipeline runs one extract, transform, load and notify pass over a
// hashtag and aggregates the stage outcomes into a run status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/bronze"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/gold"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/models"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/notify"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/sentiment"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/silver"
)

// Status is the aggregated outcome of a run.
type Status string

// Run statuses.
const (
	StatusSuccess Status = "Success"
	StatusPartial Status = "Partial"
	StatusFailed  Status = "Failed"
)

// ErrNoData is reported when extraction or normalization yields nothing.
var ErrNoData = errors.New("no data extracted")

// ModelApplier applies the DDL files and reports the schemas they produced.
type ModelApplier interface {
	ApplyAll(ctx context.Context) models.Result
	VerifySchemas(ctx context.Context) (map[string]models.SchemaInfo, error)
}

// Extractor crawls the hashtag timeline.
type Extractor interface {
	Crawl(ctx context.Context, tag string, window crawler.Window) (crawler.Result, error)
}

// Normalizer turns raw posts into records.
type Normalizer interface {
	NormalizeAll(posts []crawler.RawPost) ([]normalize.Record, []normalize.Rejected)
}

// Scorer fills the sentiment columns in place.
type Scorer interface {
	Apply(ctx context.Context, records []normalize.Record) (sentiment.Stats, error)
}

// BronzeLoader appends records to the bronze table.
type BronzeLoader interface {
	Append(ctx context.Context, records []normalize.Record) (bronze.LoadResult, error)
	Stats(ctx context.Context) (bronze.Stats, error)
}

// SilverTransform rebuilds the dimensional model from bronze.
type SilverTransform interface {
	Run(ctx context.Context) (silver.Result, error)
	Stats(ctx context.Context) (silver.Stats, error)
}

// GoldRefresher refreshes the analytics views.
type GoldRefresher interface {
	RefreshAll(ctx context.Context) gold.Result
	Stats(ctx context.Context) (map[string]gold.ViewStats, error)
}

// Notifier delivers human-facing messages.
type Notifier interface {
	SendSummary(ctx context.Context, s notify.Summary, status string, loadFailed bool) error
	SendError(ctx context.Context, stage, message string) error
	SendMostPositive(ctx context.Context, records []normalize.Record) error
	SendMostNegative(ctx context.Context, records []normalize.Record) error
}

// ReportPublisher delivers the machine-readable run report.
type ReportPublisher interface {
	Publish(ctx context.Context, report notify.RunReport) error
}

// BlobStore receives the fallback file when bronze is unavailable.
type BlobStore interface {
	PutObject(ctx context.Context, name, contentType string, data io.Reader) (string, error)
}

// Recorder receives run metrics.
type Recorder interface {
	ObserveRecords(stage string, n int)
	ObserveRejected(reason string)
	ObserveBronzeLoad(method string)
	ObserveAccounts(expired, inserted, unchanged int)
	ObserveViewRefresh(view string, ok bool)
	MarkSuccess(at time.Time)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Config identifies the run.
type Config struct {
	RunID   string
	Hashtag string
	Window  crawler.Window
}

// Deps collects the stage implementations. Models, Scorer, Notifier,
// Publisher, Fallback, Metrics and Events are optional.
type Deps struct {
	Models    ModelApplier
	Extractor Extractor
	Normalize Normalizer
	Scorer    Scorer
	Bronze    BronzeLoader
	Silver    SilverTransform
	Gold      GoldRefresher
	Notifier  Notifier
	Publisher ReportPublisher
	Fallback  BlobStore
	Metrics   Recorder
	Events    progress.Emitter
	Clock     Clock
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID       string
	Status      Status
	StartedAt   time.Time
	FinishedAt  time.Time
	Records     int
	Stages      []notify.StageOutcome
	Summary     notify.Summary
	FallbackURI string
	Err         error
}

// Runner executes pipeline runs.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates the required collaborators and returns a Runner.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	switch {
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Normalize == nil:
		return nil, fmt.Errorf("normalizer is required")
	case deps.Bronze == nil:
		return nil, fmt.Errorf("bronze loader is required")
	case deps.Silver == nil:
		return nil, fmt.Errorf("silver transform is required")
	case deps.Gold == nil:
		return nil, fmt.Errorf("gold refresher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case cfg.RunID == "":
		return nil, fmt.Errorf("run id is required")
	case cfg.Hashtag == "":
		return nil, fmt.Errorf("hashtag is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger.Named("pipeline").With(zap.String("run_id", cfg.RunID))}, nil
}

// run carries per-run state between stages.
type run struct {
	*Runner
	out     Outcome
	records []normalize.Record
}

// Run executes every stage once. Stage failures are folded into the Outcome;
// the returned status is Failed whenever a stage the run depends on failed.
func (r *Runner) Run(ctx context.Context) Outcome {
	st := &run{Runner: r}
	st.out.RunID = r.cfg.RunID
	st.out.StartedAt = r.deps.Clock.Now().UTC()
	r.emit(progress.Event{Kind: progress.KindRunStart})
	r.logger.Info("pipeline started",
		zap.String("hashtag", r.cfg.Hashtag),
		zap.Stringer("window", r.cfg.Window),
	)

	st.out.Status = st.execute(ctx)

	st.out.FinishedAt = r.deps.Clock.Now().UTC()
	st.out.Records = len(st.records)
	st.out.Summary = notify.Summarize(st.records)
	if st.out.Status != StatusFailed {
		r.deps.Metrics.MarkSuccess(st.out.FinishedAt)
	}
	st.publish(ctx)

	dur := st.out.FinishedAt.Sub(st.out.StartedAt)
	r.emit(progress.Event{Kind: progress.KindRunDone, Status: string(st.out.Status), Dur: nonNegative(dur)})
	fields := []zap.Field{
		zap.String("status", string(st.out.Status)),
		zap.Int("records", st.out.Records),
		zap.Duration("duration", dur),
	}
	if st.out.Err != nil {
		r.logger.Error("pipeline failed", append(fields, zap.Error(st.out.Err))...)
	} else {
		r.logger.Info("pipeline completed", fields...)
	}
	return st.out
}

func (st *run) execute(ctx context.Context) Status {
	st.applyModels(ctx)

	posts, err := st.extract(ctx)
	if err != nil {
		return st.fail(ctx, "Extract", err)
	}
	if err := st.transform(ctx, posts); err != nil {
		return st.fail(ctx, "Transform", err)
	}
	if err := st.loadBronze(ctx); err != nil {
		st.writeFallback(ctx)
		st.notifySummary(ctx, StatusFailed, true)
		return st.fail(ctx, "Bronze Load", err)
	}
	if err := st.loadSilver(ctx); err != nil {
		return st.fail(ctx, "Silver ETL", err)
	}
	status := StatusSuccess
	if !st.refreshGold(ctx) {
		status = StatusPartial
	}
	st.notifySummary(ctx, status, false)
	st.notifyToots(ctx)
	return status
}

// fail records err, sends an error alert and returns StatusFailed.
func (st *run) fail(ctx context.Context, stage string, err error) Status {
	st.out.Err = fmt.Errorf("%s: %w", stage, err)
	if st.deps.Notifier != nil {
		if nerr := st.deps.Notifier.SendError(ctx, stage, err.Error()); nerr != nil {
			st.logger.Warn("error alert not sent", zap.Error(nerr))
		}
	}
	return StatusFailed
}

func (st *run) applyModels(ctx context.Context) {
	if st.deps.Models == nil {
		return
	}
	done := st.begin(progress.StageModels)
	res := st.deps.Models.ApplyAll(ctx)
	if !res.OK() {
		var failed []string
		for _, layer := range res.Layers {
			if layer.Err != nil {
				failed = append(failed, layer.Layer)
			}
			for _, f := range layer.Files {
				if f.Err != nil {
					failed = append(failed, f.File)
				}
			}
		}
		st.logger.Warn("some models failed to apply, continuing", zap.Strings("failed", failed))
		done(0, fmt.Errorf("models failed: %v", failed))
	} else {
		done(0, nil)
	}
	st.verifySchemas(ctx)
}

func (st *run) verifySchemas(ctx context.Context) {
	schemas, err := st.deps.Models.VerifySchemas(ctx)
	if err != nil {
		st.logger.Warn("schema verification failed", zap.Error(err))
		return
	}
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info := schemas[name]
		if !info.Exists {
			st.logger.Warn("schema missing after model apply", zap.String("schema", name))
			continue
		}
		st.logger.Info("schema verified",
			zap.String("schema", name),
			zap.Int64("tables", info.Tables),
			zap.Int64("materialized_views", info.MaterializedViews),
		)
	}
}

func (st *run) extract(ctx context.Context) ([]crawler.RawPost, error) {
	done := st.begin(progress.StageExtract)
	res, err := st.deps.Extractor.Crawl(ctx, st.cfg.Hashtag, st.cfg.Window)
	if err != nil {
		done(0, err)
		return nil, err
	}
	st.logger.Info("extraction finished",
		zap.Int("posts", len(res.Posts)),
		zap.Int("pages", res.Pages),
		zap.Int("skipped", res.Skipped),
		zap.String("stop_reason", string(res.StopReason)),
	)
	if len(res.Posts) == 0 {
		err := fmt.Errorf("%w (stop reason %s)", ErrNoData, res.StopReason)
		done(0, err)
		return nil, err
	}
	st.deps.Metrics.ObserveRecords(progress.StageExtract, len(res.Posts))
	done(len(res.Posts), nil)
	return res.Posts, nil
}

func (st *run) transform(ctx context.Context, posts []crawler.RawPost) error {
	done := st.begin(progress.StageTransform)
	records, rejected := st.deps.Normalize.NormalizeAll(posts)
	for _, rej := range rejected {
		st.deps.Metrics.ObserveRejected(rej.Reason)
	}
	if len(records) == 0 {
		err := fmt.Errorf("%w: all %d posts rejected", ErrNoData, len(posts))
		done(0, err)
		return err
	}

	quality := normalize.Summarize(records)
	st.logger.Info("records normalized",
		zap.Int("records", len(records)),
		zap.Int("rejected", len(rejected)),
		zap.Strings("null_columns", quality.NullColumns()),
	)

	if st.deps.Scorer != nil {
		stats, err := st.deps.Scorer.Apply(ctx, records)
		if err != nil {
			done(0, err)
			return fmt.Errorf("sentiment: %w", err)
		}
		st.logger.Info("sentiment applied",
			zap.Int("scored", stats.Scored),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed_batches", stats.FailedBatches),
			zap.Int("forced_neutral", stats.ForcedNeutral),
		)
	}
	st.records = records
	st.deps.Metrics.ObserveRecords(progress.StageTransform, len(records))
	done(len(records), nil)
	return nil
}

func (st *run) loadBronze(ctx context.Context) error {
	done := st.begin(progress.StageBronze)
	res, err := st.deps.Bronze.Append(ctx, st.records)
	if err != nil {
		st.deps.Metrics.ObserveBronzeLoad("failed")
		done(0, err)
		return err
	}
	st.deps.Metrics.ObserveBronzeLoad(string(res.Method))
	st.deps.Metrics.ObserveRecords(progress.StageBronze, int(res.Rows))

	if stats, err := st.deps.Bronze.Stats(ctx); err != nil {
		st.logger.Warn("bronze stats unavailable", zap.Error(err))
	} else {
		fields := []zap.Field{
			zap.Int64("total_rows", stats.RowCount),
			zap.Int64("pipeline_runs", stats.PipelineRuns),
		}
		if stats.LatestIngestion != nil {
			fields = append(fields, zap.Time("latest_ingestion", *stats.LatestIngestion))
		}
		st.logger.Info("bronze layer stats", fields...)
	}
	done(int(res.Rows), nil)
	return nil
}

func (st *run) loadSilver(ctx context.Context) error {
	done := st.begin(progress.StageSilver)
	res, err := st.deps.Silver.Run(ctx)
	if err != nil {
		done(0, err)
		return err
	}
	st.deps.Metrics.ObserveAccounts(int(res.AccountsExpired), int(res.AccountsInserted), res.AccountsUnchanged)
	st.deps.Metrics.ObserveRecords(progress.StageSilver, int(res.Facts))

	if stats, err := st.deps.Silver.Stats(ctx); err != nil {
		st.logger.Warn("silver stats unavailable", zap.Error(err))
	} else {
		for table, n := range stats.Rows {
			st.logger.Info("silver table", zap.String("table", table), zap.Int64("rows", n))
		}
	}
	done(int(res.Facts), nil)
	return nil
}

// refreshGold reports whether every view refreshed.
func (st *run) refreshGold(ctx context.Context) bool {
	done := st.begin(progress.StageGold)
	res := st.deps.Gold.RefreshAll(ctx)
	for _, v := range res.Views {
		st.deps.Metrics.ObserveViewRefresh(v.View, v.Err == nil)
	}
	if stats, err := st.deps.Gold.Stats(ctx); err != nil {
		st.logger.Warn("gold stats unavailable", zap.Error(err))
	} else {
		for view, s := range stats {
			st.logger.Info("gold view", zap.String("view", view), zap.Int64("rows", s.Rows), zap.String("size", s.Size))
		}
	}
	if !res.OK() {
		st.logger.Warn("some gold views failed to refresh", zap.Strings("views", res.Failed()))
		done(res.Refreshed(), fmt.Errorf("views failed: %v", res.Failed()))
		return false
	}
	done(res.Refreshed(), nil)
	return true
}

func (st *run) notifySummary(ctx context.Context, status Status, loadFailed bool) {
	if st.deps.Notifier == nil {
		return
	}
	if err := st.deps.Notifier.SendSummary(ctx, notify.Summarize(st.records), string(status), loadFailed); err != nil {
		st.logger.Warn("summary notification not sent", zap.Error(err))
	}
}

func (st *run) notifyToots(ctx context.Context) {
	if st.deps.Notifier == nil {
		return
	}
	done := st.begin(progress.StageNotify)
	sent := 0
	highlights := []struct {
		name string
		send func(context.Context, []normalize.Record) error
	}{
		{"positive", st.deps.Notifier.SendMostPositive},
		{"negative", st.deps.Notifier.SendMostNegative},
	}
	for _, h := range highlights {
		err := h.send(ctx, st.records)
		switch {
		case errors.Is(err, notify.ErrNothingToSend):
			st.logger.Info("no toots to highlight", zap.String("sentiment", h.name))
		case err != nil:
			st.logger.Warn("toot highlight not sent", zap.String("sentiment", h.name), zap.Error(err))
		default:
			sent++
		}
	}
	done(sent, nil)
}

func (st *run) publish(ctx context.Context) {
	if st.deps.Publisher == nil {
		return
	}
	report := notify.RunReport{
		RunID:      st.out.RunID,
		Status:     string(st.out.Status),
		Hashtag:    st.cfg.Hashtag,
		StartedAt:  st.out.StartedAt,
		FinishedAt: st.out.FinishedAt,
		Stages:     st.out.Stages,
		Summary:    st.out.Summary,
	}
	if st.out.Err != nil {
		report.Error = st.out.Err.Error()
	}
	if err := st.deps.Publisher.Publish(ctx, report); err != nil {
		st.logger.Warn("run report not published", zap.Error(err))
	}
}

// begin emits STAGE_START and returns a completion func that emits
// STAGE_DONE or STAGE_ERROR and records the stage outcome.
func (st *run) begin(stage string) func(records int, err error) {
	start := st.deps.Clock.Now()
	st.emit(progress.Event{Kind: progress.KindStageStart, Stage: stage})
	return func(records int, err error) {
		dur := nonNegative(st.deps.Clock.Now().Sub(start))
		outcome := notify.StageOutcome{Stage: stage, OK: err == nil, Duration: dur}
		evt := progress.Event{Kind: progress.KindStageDone, Stage: stage, Records: int64(records), Dur: dur}
		if err != nil {
			outcome.Detail = err.Error()
			evt.Kind = progress.KindStageError
			evt.Note = err.Error()
		}
		st.out.Stages = append(st.out.Stages, outcome)
		st.emit(evt)
	}
}

func (r *Runner) emit(evt progress.Event) {
	if r.deps.Events == nil {
		return
	}
	evt.RunID = r.cfg.RunID
	evt.TS = r.deps.Clock.Now().UTC()
	r.deps.Events.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

type nopRecorder struct{}

func (nopRecorder) ObserveRecords(string, int) {}
func (nopRecorder) ObserveRejected(string) {}
func (nopRecorder) ObserveBronzeLoad(string) {}
func (nopRecorder) ObserveAccounts(int, int, int) {}
func (nopRecorder) ObserveViewRefresh(string, bool) {}
func (nopRecorder) MarkSuccess(time.Time) {}
