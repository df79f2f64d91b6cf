// Package bronze lands normalized records in the raw bronze table, stamping
// every row with ingestion lineage.
package bronze

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/postgres"
)

const (
	// DefaultDataVersion is written to data_version.
	DefaultDataVersion = "1.0"
	// DefaultUpsertBatchSize bounds the rows per fallback INSERT.
	DefaultUpsertBatchSize = 1000

	uniqueViolation = "23505"
	maxBindParams   = 65535
)

// ErrNoRecords is returned when Append is called without rows.
var ErrNoRecords = errors.New("no records to load")

// Method names the write path a load took.
type Method string

// Write paths.
const (
	MethodCopy   Method = "copy"
	MethodUpsert Method = "upsert"
)

// Pool is the subset of pgxpool.Pool the loader needs.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Clock supplies ingestion timestamps.
type Clock interface {
	Now() time.Time
}

// Config identifies the bronze table and the run being loaded.
type Config struct {
	Schema          string
	Table           string
	RunID           string
	DataVersion     string
	UpsertBatchSize int
}

// LoadResult describes a successful Append.
type LoadResult struct {
	RunID      string
	Rows       int64
	Method     Method
	IngestedAt time.Time
}

// Stats summarizes the bronze table.
type Stats struct {
	RowCount        int64
	LatestIngestion *time.Time
	PipelineRuns    int64
	CurrentRunID    string
}

// Loader appends records to the bronze table.
type Loader struct {
	pool    Pool
	clock   Clock
	logger  *zap.Logger
	cfg     Config
	table   string
	ident   pgx.Identifier
	batches int
}

// NewLoader validates cfg and constructs a Loader.
func NewLoader(pool Pool, clock Clock, cfg Config, logger *zap.Logger) (*Loader, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	table, err := postgres.Qualified(cfg.Schema, cfg.Table)
	if err != nil {
		return nil, err
	}
	if cfg.DataVersion == "" {
		cfg.DataVersion = DefaultDataVersion
	}
	batch := cfg.UpsertBatchSize
	if batch <= 0 {
		batch = DefaultUpsertBatchSize
	}
	if limit := maxBindParams / len(Columns); batch > limit {
		batch = limit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		pool:    pool,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		table:   table,
		ident:   pgx.Identifier{cfg.Schema, cfg.Table},
		batches: batch,
	}, nil
}

// RunID returns the pipeline run id stamped on rows.
func (l *Loader) RunID() string {
	return l.cfg.RunID
}

// Append writes records with COPY, falling back to a batched upsert when COPY
// fails (for example on ids already present). The upsert refreshes lineage
// columns only; content columns of existing rows are left untouched.
func (l *Loader) Append(ctx context.Context, records []normalize.Record) (LoadResult, error) {
	if len(records) == 0 {
		return LoadResult{}, ErrNoRecords
	}
	meta := Metadata{IngestedAt: l.clock.Now(), RunID: l.cfg.RunID, DataVersion: l.cfg.DataVersion}
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rowValues(rec, meta))
	}
	result := LoadResult{RunID: meta.RunID, IngestedAt: meta.IngestedAt}

	n, err := l.pool.CopyFrom(ctx, l.ident, Columns, pgx.CopyFromRows(rows))
	if err == nil {
		result.Rows = n
		result.Method = MethodCopy
		l.logger.Info("bronze copy complete", zap.String("table", l.table), zap.Int64("rows", n))
		return result, nil
	}
	if ctx.Err() != nil {
		return LoadResult{}, fmt.Errorf("copy bronze rows: %w", err)
	}
	if isUniqueViolation(err) {
		l.logger.Warn("duplicate ids in bronze copy, switching to upsert", zap.String("table", l.table))
	} else {
		l.logger.Warn("bronze copy failed, switching to upsert", zap.String("table", l.table), zap.Error(err))
	}

	n, err = l.upsert(ctx, rows)
	if err != nil {
		return LoadResult{}, err
	}
	result.Rows = n
	result.Method = MethodUpsert
	l.logger.Info("bronze upsert complete", zap.String("table", l.table), zap.Int64("rows", n))
	return result, nil
}

func (l *Loader) upsert(ctx context.Context, rows [][]any) (int64, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin bronze upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for start := 0; start < len(rows); start += l.batches {
		end := min(start+l.batches, len(rows))
		batch := rows[start:end]
		args := make([]any, 0, len(batch)*len(Columns))
		for _, row := range batch {
			args = append(args, row...)
		}
		tag, err := tx.Exec(ctx, upsertSQL(l.table, len(batch)), args...)
		if err != nil {
			return 0, fmt.Errorf("upsert bronze rows %d-%d: %w", start, end, err)
		}
		total += tag.RowsAffected()
		l.logger.Debug("bronze upsert batch", zap.Int("through", end), zap.Int("total", len(rows)))
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit bronze upsert: %w", err)
	}
	return total, nil
}

// upsertSQL renders a multi-row insert for rows rows.
func upsertSQL(table string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(Columns, ", "))
	b.WriteString(") VALUES ")
	param := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range Columns {
			if c > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(param))
			param++
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT (id) DO UPDATE SET ")
	for i, col := range MetadataColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(col + " = EXCLUDED." + col)
	}
	return b.String()
}

// Stats reports row count, latest ingestion and distinct runs.
func (l *Loader) Stats(ctx context.Context) (Stats, error) {
	query := fmt.Sprintf(`
SELECT COUNT(*), MAX(ingestion_timestamp), COUNT(DISTINCT pipeline_run_id)
FROM %s`, l.table)
	stats := Stats{CurrentRunID: l.cfg.RunID}
	if err := l.pool.QueryRow(ctx, query).Scan(&stats.RowCount, &stats.LatestIngestion, &stats.PipelineRuns); err != nil {
		return Stats{}, fmt.Errorf("query bronze stats: %w", err)
	}
	return stats, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
