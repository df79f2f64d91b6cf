package bronze

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

var loadTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func sampleRecords(n int) []normalize.Record {
	out := make([]normalize.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, normalize.Record{
			ID:           "10" + string(rune('0'+i%10)),
			CreatedAt:    loadTime.Add(-time.Duration(i) * time.Minute),
			ContentClean: strPtr("hello"),
		})
	}
	return out
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newTestLoader(t *testing.T, mock pgxmock.PgxPoolIface, batch int) *Loader {
	t.Helper()
	loader, err := NewLoader(mock, fixedClock{at: loadTime}, Config{
		Schema:          "bronze",
		Table:           "toots",
		RunID:           "run_20250314_120000_deadbeef",
		UpsertBatchSize: batch,
	}, zap.NewNop())
	require.NoError(t, err)
	return loader
}

func TestAppendUsesCopy(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze", "toots"}, Columns).WillReturnResult(3)

	res, err := newTestLoader(t, mock, 0).Append(context.Background(), sampleRecords(3))
	require.NoError(t, err)
	assert.Equal(t, LoadResult{
		RunID:      "run_20250314_120000_deadbeef",
		Rows:       3,
		Method:     MethodCopy,
		IngestedAt: loadTime,
	}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendFallsBackToBatchedUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze", "toots"}, Columns).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bronze\.toots .* ON CONFLICT \(id\) DO UPDATE SET ingestion_timestamp = EXCLUDED\.ingestion_timestamp`).
		WithArgs(anyArgs(2 * len(Columns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO bronze\.toots`).
		WithArgs(anyArgs(len(Columns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := newTestLoader(t, mock, 2).Append(context.Background(), sampleRecords(3))
	require.NoError(t, err)
	assert.Equal(t, MethodUpsert, res.Method)
	assert.Equal(t, int64(3), res.Rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendUpsertFailureRollsBack(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"bronze", "toots"}, Columns).WillReturnError(errors.New("connection reset"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bronze\.toots`).
		WithArgs(anyArgs(len(Columns))...).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err = newTestLoader(t, mock, 0).Append(context.Background(), sampleRecords(1))
	require.ErrorContains(t, err, "relation does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = newTestLoader(t, mock, 0).Append(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoRecords)
}

func TestNewLoaderValidates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewLoader(mock, fixedClock{}, Config{Schema: "bronze", Table: "t"}, nil)
	require.ErrorContains(t, err, "run id")
	_, err = NewLoader(mock, fixedClock{}, Config{Schema: "bronze", Table: "t;drop", RunID: "r"}, nil)
	require.ErrorContains(t, err, "invalid table name")

	loader, err := NewLoader(mock, fixedClock{}, Config{Schema: "bronze", Table: "t", RunID: "r", UpsertBatchSize: 100000}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, loader.batches*len(Columns), maxBindParams)
}

func TestStats(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	latest := loadTime
	mock.ExpectQuery(`SELECT COUNT\(\*\), MAX\(ingestion_timestamp\), COUNT\(DISTINCT pipeline_run_id\)\s+FROM bronze\.toots`).
		WillReturnRows(pgxmock.NewRows([]string{"count", "max", "runs"}).AddRow(int64(42), &latest, int64(3)))

	stats, err := newTestLoader(t, mock, 0).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.RowCount)
	assert.Equal(t, int64(3), stats.PipelineRuns)
	require.NotNil(t, stats.LatestIngestion)
	assert.True(t, stats.LatestIngestion.Equal(loadTime))
	assert.Equal(t, "run_20250314_120000_deadbeef", stats.CurrentRunID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQLPlaceholders(t *testing.T) {
	t.Parallel()

	sql := upsertSQL("bronze.toots", 2)
	assert.Contains(t, sql, "($1,$2,")
	assert.Contains(t, sql, "$100)")
	assert.NotContains(t, sql, "$101")
	assert.True(t, strings.HasSuffix(sql,
		"ingestion_timestamp = EXCLUDED.ingestion_timestamp, pipeline_run_id = EXCLUDED.pipeline_run_id, data_version = EXCLUDED.data_version"))
	assert.NotContains(t, sql, "content = EXCLUDED")
}

func TestRowValuesMatchColumns(t *testing.T) {
	t.Parallel()

	row := rowValues(normalize.Record{ID: "1"}, Metadata{IngestedAt: loadTime, RunID: "r", DataVersion: "1.0"})
	require.Len(t, row, len(Columns))
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "r", row[len(row)-2])
	assert.Equal(t, "1.0", row[len(row)-1])
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	score := 0.9123
	followers := int64(12)
	rec := normalize.Record{
		ID:                    "1",
		CreatedAt:             loadTime,
		ContentClean:          strPtr("hello, world"),
		SentimentScore:        &score,
		AccountFollowersCount: &followers,
		HasPoll:               true,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []normalize.Record{rec}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	header, row := rows[0], rows[1]
	cell := func(col string) string {
		for i, h := range header {
			if h == col {
				return row[i]
			}
		}
		t.Fatalf("missing column %s", col)
		return ""
	}
	assert.Equal(t, "1", cell("id"))
	assert.Equal(t, "2025-03-14T12:00:00Z", cell("created_at"))
	assert.Equal(t, "hello, world", cell("content_clean"))
	assert.Equal(t, "0.9123", cell("sentiment_score"))
	assert.Equal(t, "12", cell("account_followers_count"))
	assert.Equal(t, "true", cell("has_poll"))
	assert.Equal(t, "", cell("language"))
	assert.Equal(t, "mastodon_data_20250314_120000.csv", FallbackFileName(loadTime))
}
