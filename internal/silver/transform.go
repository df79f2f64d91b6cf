// Package silver builds the dimensional model (dates, SCD2 accounts, content,
// sentiment buckets and the engagement fact) from the bronze table.
package silver

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/storage/postgres"
)

// DefaultLockKey serializes concurrent transforms.
const DefaultLockKey int64 = 727001

// Pool is the subset of pgxpool.Pool the transform needs.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Clock supplies the transform time used for expiry and account age.
type Clock interface {
	Now() time.Time
}

// Config names the source table and target schema.
type Config struct {
	BronzeSchema string
	BronzeTable  string
	Schema       string
	LockKey      int64
}

// Result reports rows affected per step.
type Result struct {
	Dates             int64
	AccountsExpired   int64
	AccountsInserted  int64
	AccountsUnchanged int
	Contents          int64
	Sentiments        int64
	Facts             int64
	Duration          time.Duration
}

// Stats holds row counts per silver table.
type Stats struct {
	Rows            map[string]int64
	CurrentAccounts int64
}

// Transform runs the bronze to silver load.
type Transform struct {
	pool    Pool
	clock   Clock
	logger  *zap.Logger
	bronze  string
	schema  string
	lockKey int64
}

// New validates cfg and constructs a Transform.
func New(pool Pool, clock Clock, cfg Config, logger *zap.Logger) (*Transform, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	bronze, err := postgres.Qualified(cfg.BronzeSchema, cfg.BronzeTable)
	if err != nil {
		return nil, err
	}
	if !postgres.ValidIdentifier(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}
	if cfg.LockKey == 0 {
		cfg.LockKey = DefaultLockKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transform{
		pool:    pool,
		clock:   clock,
		logger:  logger,
		bronze:  bronze,
		schema:  cfg.Schema,
		lockKey: cfg.LockKey,
	}, nil
}

// Run executes Date, Account, Content, Sentiment and Fact in one transaction
// guarded by an advisory lock. Any failure rolls back every step.
func (t *Transform) Run(ctx context.Context) (Result, error) {
	start := t.clock.Now()
	var res Result

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin silver transform: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, setUTCSQL); err != nil {
		return res, fmt.Errorf("set transform time zone: %w", err)
	}
	if _, err := tx.Exec(ctx, advisoryLock, t.lockKey); err != nil {
		return res, fmt.Errorf("acquire silver lock: %w", err)
	}

	if res.Dates, err = t.exec(ctx, tx, TableDate, dateSQL(t.schema, t.bronze)); err != nil {
		return res, err
	}
	if err := t.loadAccounts(ctx, tx, start, &res); err != nil {
		return res, err
	}
	if res.Contents, err = t.exec(ctx, tx, TableContent, contentSQL(t.schema, t.bronze)); err != nil {
		return res, err
	}
	if res.Sentiments, err = t.exec(ctx, tx, TableSentiment, sentimentSQL(t.schema, t.bronze)); err != nil {
		return res, err
	}
	if res.Facts, err = t.exec(ctx, tx, TableFact, factSQL(t.schema, t.bronze)); err != nil {
		return res, err
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit silver transform: %w", err)
	}
	res.Duration = t.clock.Now().Sub(start)
	t.logger.Info("silver transform complete",
		zap.Int64("dates", res.Dates),
		zap.Int64("accounts_expired", res.AccountsExpired),
		zap.Int64("accounts_inserted", res.AccountsInserted),
		zap.Int("accounts_unchanged", res.AccountsUnchanged),
		zap.Int64("contents", res.Contents),
		zap.Int64("sentiments", res.Sentiments),
		zap.Int64("facts", res.Facts),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (t *Transform) exec(ctx context.Context, tx pgx.Tx, table, sql string) (int64, error) {
	tag, err := tx.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("populate %s: %w", table, err)
	}
	t.logger.Debug("silver step", zap.String("table", table), zap.Int64("rows", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

func (t *Transform) loadAccounts(ctx context.Context, tx pgx.Tx, now time.Time, res *Result) error {
	candidates, err := readCandidates(ctx, tx, t.bronze)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.AccountID)
	}
	current, err := readCurrent(ctx, tx, t.schema, ids)
	if err != nil {
		return err
	}

	plan := PlanSCD2(candidates, current, now)
	res.AccountsUnchanged = plan.Unchanged
	if len(plan.Expire) > 0 {
		tag, err := tx.Exec(ctx, expireAccountsSQL(t.schema), plan.Expire, now)
		if err != nil {
			return fmt.Errorf("expire accounts: %w", err)
		}
		res.AccountsExpired = tag.RowsAffected()
	}
	if len(plan.Insert) > 0 {
		rows := make([][]any, 0, len(plan.Insert))
		for _, v := range plan.Insert {
			rows = append(rows, v.values())
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{t.schema, TableAccount}, accountColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert account versions: %w", err)
		}
		res.AccountsInserted = n
	}
	return nil
}

func readCandidates(ctx context.Context, tx pgx.Tx, bronze string) ([]AccountCandidate, error) {
	rows, err := tx.Query(ctx, candidatesSQL(bronze))
	if err != nil {
		return nil, fmt.Errorf("query account candidates: %w", err)
	}
	defer rows.Close()
	var out []AccountCandidate
	for rows.Next() {
		var c AccountCandidate
		if err := rows.Scan(
			&c.AccountID,
			&c.Username,
			&c.DisplayName,
			&c.Followers,
			&c.Following,
			&c.Statuses,
			&c.IsBot,
			&c.CreatedAt,
			&c.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read account candidates: %w", err)
	}
	return out, nil
}

func readCurrent(ctx context.Context, tx pgx.Tx, schema string, ids []string) (map[string]CurrentAccount, error) {
	rows, err := tx.Query(ctx, currentAccountsSQL(schema), ids)
	if err != nil {
		return nil, fmt.Errorf("query current accounts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]CurrentAccount, len(ids))
	for rows.Next() {
		var c CurrentAccount
		if err := rows.Scan(&c.AccountKey, &c.AccountID, &c.Username, &c.Followers, &c.Following, &c.Statuses); err != nil {
			return nil, fmt.Errorf("scan current account: %w", err)
		}
		out[c.AccountID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read current accounts: %w", err)
	}
	return out, nil
}

// Stats counts rows in every silver table plus current account versions.
func (t *Transform) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Rows: make(map[string]int64, len(Tables))}
	for _, table := range Tables {
		var n int64
		if err := t.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s.%s", t.schema, table)).Scan(&n); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Rows[table] = n
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE is_current", t.schema, TableAccount)
	if err := t.pool.QueryRow(ctx, query).Scan(&stats.CurrentAccounts); err != nil {
		return Stats{}, fmt.Errorf("count current accounts: %w", err)
	}
	return stats, nil
}
