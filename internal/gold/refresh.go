// Package gold refreshes the analytics materialized views built on the silver
// model.
package gold

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/postgres"
)

// Views are the materialized views in refresh order.
var Views = []string{
	"mv_daily_engagement_summary",
	"mv_top_performing_content",
	"mv_account_influence_analysis",
	"mv_hashtag_performance",
	"mv_hourly_posting_patterns",
	"mv_sentiment_trends",
	"mv_viral_content_indicators",
}

// Pool is the subset of pgxpool.Pool the refresher needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config selects the schema and refresh mode.
type Config struct {
	Schema     string
	Concurrent bool
}

// ViewResult is the outcome for one view.
type ViewResult struct {
	View     string
	Duration time.Duration
	Err      error
}

// Result aggregates a refresh pass.
type Result struct {
	Views []ViewResult
}

// OK reports whether every view refreshed.
func (r Result) OK() bool {
	for _, v := range r.Views {
		if v.Err != nil {
			return false
		}
	}
	return true
}

// Refreshed counts successful views.
func (r Result) Refreshed() int {
	n := 0
	for _, v := range r.Views {
		if v.Err == nil {
			n++
		}
	}
	return n
}

// Failed lists views that did not refresh.
func (r Result) Failed() []string {
	var out []string
	for _, v := range r.Views {
		if v.Err != nil {
			out = append(out, v.View)
		}
	}
	return out
}

// ViewStats describes one materialized view.
type ViewStats struct {
	Rows int64
	Size string
}

// Refresher refreshes the gold views.
type Refresher struct {
	pool       Pool
	schema     string
	concurrent bool
	logger     *zap.Logger
	clock      Clock
}

// Clock times each refresh.
type Clock interface {
	Now() time.Time
}

// New constructs a Refresher.
func New(pool Pool, clock Clock, cfg Config, logger *zap.Logger) (*Refresher, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if !postgres.ValidIdentifier(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{pool: pool, schema: cfg.Schema, concurrent: cfg.Concurrent, logger: logger, clock: clock}, nil
}

// RefreshAll refreshes every view. A failing view is logged and skipped.
func (r *Refresher) RefreshAll(ctx context.Context) Result {
	var res Result
	for _, view := range Views {
		vr := ViewResult{View: view}
		start := r.clock.Now()
		_, err := r.pool.Exec(ctx, r.refreshSQL(view))
		vr.Duration = r.clock.Now().Sub(start)
		if err != nil {
			vr.Err = fmt.Errorf("refresh %s: %w", view, err)
			r.logger.Error("gold view refresh failed", zap.String("view", view), zap.Error(err))
		} else {
			r.logger.Info("gold view refreshed", zap.String("view", view), zap.Duration("duration", vr.Duration))
		}
		res.Views = append(res.Views, vr)
	}
	return res
}

func (r *Refresher) refreshSQL(view string) string {
	if r.concurrent {
		return fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s.%s", r.schema, view)
	}
	return fmt.Sprintf("REFRESH MATERIALIZED VIEW %s.%s", r.schema, view)
}

// Stats returns row count and on-disk size per view. Views whose count cannot
// be read report zero rows.
func (r *Refresher) Stats(ctx context.Context) (map[string]ViewStats, error) {
	out := make(map[string]ViewStats, len(Views))
	for _, view := range Views {
		var n int64
		if err := r.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", r.schema, view)).Scan(&n); err != nil {
			r.logger.Warn("gold view count failed", zap.String("view", view), zap.Error(err))
		}
		out[view] = ViewStats{Rows: n}
	}

	rows, err := r.pool.Query(ctx, `
SELECT matviewname, pg_size_pretty(pg_total_relation_size(quote_ident(schemaname) || '.' || quote_ident(matviewname)))
FROM pg_matviews
WHERE schemaname = $1`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("query gold view sizes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, size string
		if err := rows.Scan(&name, &size); err != nil {
			return nil, fmt.Errorf("scan gold view size: %w", err)
		}
		if s, ok := out[name]; ok {
			s.Size = size
			out[name] = s
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read gold view sizes: %w", err)
	}
	return out, nil
}
