// Package main wires together the hashtag pipeline binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/api"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/bronze"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/clock/system"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/config"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/gold"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/id/uuid"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/logging"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/mastodon"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/metrics"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/models"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/notify"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/pipeline"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/policy/ratelimit"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/mastodon-medallion-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/sentiment"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/silver"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/gcs"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/local"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/postgres"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging.Development,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	runID, err := uuid.NewUUIDGenerator().NewRunID(clock.Now())
	if err != nil {
		logger.Error("run id generation failed", zap.Error(err))
		return 1
	}
	logger = logger.With(zap.String("run_id", runID))

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		Name:            cfg.DB.Name,
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Host:            cfg.DB.Host,
		Port:            cfg.DB.Port,
		SSLMode:         cfg.DB.SSLMode,
		MaxConns:        cfg.DB.MaxConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		logger.Error("database pool init failed", zap.Error(err))
		return 1
	}
	defer pool.Close()

	reg, err := metrics.New()
	if err != nil {
		logger.Error("metrics init failed", zap.Error(err))
		return 1
	}

	snapshots := sinks.NewSnapshotSink()
	promSink, err := sinks.NewPrometheusSink(reg.Registry())
	if err != nil {
		logger.Error("progress metrics init failed", zap.Error(err))
		return 1
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, snapshots)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	var status *api.Server
	if cfg.Server.Port > 0 {
		status = api.NewServer(snapshots, api.Options{
			Metrics:    reg.Handler(),
			Middleware: reg.Middleware,
			Logger:     logger.Named("api"),
		})
		serveCtx, cancelServe := context.WithCancel(ctx)
		served, err := status.Serve(serveCtx, cfg.Server.Port)
		if err != nil {
			cancelServe()
			logger.Error("status server init failed", zap.Error(err))
			return 1
		}
		logger.Info("status server started", zap.Int("port", cfg.Server.Port))
		defer func() {
			cancelServe()
			if err := <-served; err != nil {
				logger.Warn("status server error", zap.Error(err))
			}
		}()
	}

	deps, cleanup, err := buildDeps(ctx, cfg, runID, pool, clock, reg, hub, logger)
	if err != nil {
		logger.Error("pipeline init failed", zap.Error(err))
		return 1
	}
	defer cleanup()

	runner, err := pipeline.New(deps, pipeline.Config{
		RunID:   runID,
		Hashtag: cfg.Crawl.Hashtag,
		Window:  cfg.Crawl.Window(),
	}, logger)
	if err != nil {
		logger.Error("pipeline init failed", zap.Error(err))
		return 1
	}
	if status != nil {
		status.SetReady(true)
	}

	out := runner.Run(ctx)

	// Flush progress so the run metrics are final before the push.
	closeCtx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelClose()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}

	pushCtx, cancelPush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPush()
	if err := reg.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, runID); err != nil {
		logger.Warn("metrics push failed", zap.Error(err))
	}

	if out.Status == pipeline.StatusFailed {
		return 1
	}
	return 0
}

// buildDeps constructs every stage. The returned cleanup releases clients
// opened along the way.
func buildDeps(
	ctx context.Context,
	cfg config.Config,
	runID string,
	pool *pgxpool.Pool,
	clock *system.Clock,
	reg *metrics.Metrics,
	hub *progress.Hub,
	logger *zap.Logger,
) (pipeline.Deps, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}
	fail := func(err error) (pipeline.Deps, func(), error) {
		cleanup()
		return pipeline.Deps{}, func() {}, err
	}

	deps := pipeline.Deps{
		Normalize: normalize.New(logger),
		Metrics:   reg,
		Events:    hub,
		Clock:     clock,
	}

	if cfg.Models.Apply {
		exec, err := models.New(pool, models.Schemas{
			Bronze:      cfg.Bronze.Schema,
			BronzeTable: cfg.Bronze.Table,
			Silver:      cfg.Silver.Schema,
			Gold:        cfg.Gold.Schema,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("models: %w", err))
		}
		deps.Models = exec
	}

	feed, err := mastodon.New(mastodon.Config{
		BaseURL:           cfg.Mastodon.BaseURL,
		AccessToken:       cfg.Mastodon.AccessToken,
		UserAgent:         cfg.Mastodon.UserAgent,
		Timeout:           cfg.Mastodon.APITimeout(),
		RequestsPerSecond: cfg.Mastodon.RequestsPerSecond,
	}, nil, ratelimit.New(ratelimit.Config{
		RPS: cfg.Mastodon.RequestsPerSecond,
		Observer: func(host string, waited time.Duration) {
			logger.Debug("rate limited", zap.String("host", host), zap.Duration("waited", waited))
		},
	}), logger)
	if err != nil {
		return fail(fmt.Errorf("mastodon client: %w", err))
	}
	deps.Extractor = crawler.New(feed, clock,
		crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Multiplier:  cfg.Retry.Multiplier,
			MinDelay:    cfg.Retry.MinDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		}),
		crawler.Config{PageSize: cfg.Crawl.TootsLimitPerPage, MaxPages: cfg.Crawl.MaxPages},
		logger,
		crawler.WithObserver(pipeline.PageEvents{RunID: runID, Clock: clock, Events: hub}),
	)

	if cfg.Sentiment.Enabled {
		model, err := sentimentModel(cfg.Sentiment)
		if err != nil {
			return fail(err)
		}
		deps.Scorer = sentiment.NewAnalyzer(model, sentiment.Config{
			Threshold: cfg.Sentiment.Threshold,
			BatchSize: cfg.Sentiment.BatchSize,
			MaxChars:  cfg.Sentiment.MaxChars,
		}, logger)
	}

	loader, err := bronze.NewLoader(pool, clock, bronze.Config{
		Schema:          cfg.Bronze.Schema,
		Table:           cfg.Bronze.Table,
		RunID:           runID,
		DataVersion:     cfg.Bronze.DataVersion,
		UpsertBatchSize: cfg.Bronze.UpsertBatchSize,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("bronze loader: %w", err))
	}
	deps.Bronze = loader

	transform, err := silver.New(pool, clock, silver.Config{
		BronzeSchema: cfg.Bronze.Schema,
		BronzeTable:  cfg.Bronze.Table,
		Schema:       cfg.Silver.Schema,
		LockKey:      cfg.Silver.LockKey,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("silver transform: %w", err))
	}
	deps.Silver = transform

	refresher, err := gold.New(pool, clock, gold.Config{
		Schema:     cfg.Gold.Schema,
		Concurrent: cfg.Gold.ConcurrentRefresh,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("gold refresher: %w", err))
	}
	deps.Gold = refresher

	if cfg.Storage.GCSBucket != "" {
		store, closeFn, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return fail(fmt.Errorf("gcs fallback: %w", err))
		}
		closers = append(closers, closeFn)
		deps.Fallback = store
	} else {
		store, err := local.New(local.Config{Dir: cfg.Storage.FallbackDir})
		if err != nil {
			return fail(fmt.Errorf("local fallback: %w", err))
		}
		deps.Fallback = store
	}

	if cfg.Notify.DiscordEnabled {
		discord, err := notify.NewDiscord(notify.DiscordConfig{
			WebhookURL: cfg.Notify.DiscordWebhookURL,
			Hashtag:    cfg.Crawl.Hashtag,
			BaseURL:    cfg.Mastodon.BaseURL,
		}, nil, clock, logger)
		if err != nil {
			return fail(fmt.Errorf("discord: %w", err))
		}
		deps.Notifier = discord
	}

	if cfg.PubSub.Enabled() {
		pub, closeFn, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return fail(fmt.Errorf("pubsub: %w", err))
		}
		closers = append(closers, closeFn)
		reports, err := notify.NewRunPublisher(pub, cfg.PubSub.TopicName, logger)
		if err != nil {
			return fail(err)
		}
		deps.Publisher = reports
	}

	return deps, cleanup, nil
}

func sentimentModel(cfg config.SentimentConfig) (sentiment.Model, error) {
	switch cfg.Backend {
	case config.BackendVader:
		return sentiment.NewVader(), nil
	default:
		model, err := sentiment.NewHuggingFace(sentiment.HuggingFaceConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.ModelName,
			Token:    cfg.APIToken,
			Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("huggingface: %w", err)
		}
		return model, nil
	}
}
