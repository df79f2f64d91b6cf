package gold

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepClock advances a second on every read.
type stepClock struct{ at time.Time }

func (c *stepClock) Now() time.Time {
	c.at = c.at.Add(time.Second)
	return c.at
}

func TestRefreshAllSkipsFailingView(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for _, view := range Views {
		exp := mock.ExpectExec(`^REFRESH MATERIALIZED VIEW analytics\.` + view + `$`)
		if view == "mv_hashtag_performance" {
			exp.WillReturnError(errors.New("division by zero"))
			continue
		}
		exp.WillReturnResult(pgxmock.NewResult("REFRESH MATERIALIZED VIEW", 0))
	}

	r, err := New(mock, &stepClock{}, Config{Schema: "analytics"}, zap.NewNop())
	require.NoError(t, err)
	res := r.RefreshAll(context.Background())

	assert.False(t, res.OK())
	assert.Equal(t, len(Views)-1, res.Refreshed())
	assert.Equal(t, []string{"mv_hashtag_performance"}, res.Failed())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshConcurrently(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for _, view := range Views {
		mock.ExpectExec(`^REFRESH MATERIALIZED VIEW CONCURRENTLY analytics\.` + view + `$`).
			WillReturnResult(pgxmock.NewResult("REFRESH MATERIALIZED VIEW", 0))
	}

	r, err := New(mock, &stepClock{}, Config{Schema: "analytics", Concurrent: true}, nil)
	require.NoError(t, err)
	res := r.RefreshAll(context.Background())

	assert.True(t, res.OK())
	assert.Equal(t, len(Views), res.Refreshed())
	for _, v := range res.Views {
		assert.Equal(t, time.Second, v.Duration, v.View)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for i, view := range Views {
		exp := mock.ExpectQuery(`SELECT COUNT\(\*\) FROM analytics\.` + view)
		if i == 1 {
			exp.WillReturnError(errors.New("not populated"))
			continue
		}
		exp.WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(10 + i)))
	}
	mock.ExpectQuery(`FROM pg_matviews`).
		WithArgs("analytics").
		WillReturnRows(pgxmock.NewRows([]string{"matviewname", "size"}).
			AddRow("mv_daily_engagement_summary", "16 kB").
			AddRow("mv_other", "8 kB"))

	r, err := New(mock, &stepClock{}, Config{Schema: "analytics"}, nil)
	require.NoError(t, err)
	stats, err := r.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ViewStats{Rows: 10, Size: "16 kB"}, stats["mv_daily_engagement_summary"])
	assert.Equal(t, ViewStats{}, stats["mv_top_performing_content"])
	assert.Equal(t, int64(12), stats["mv_account_influence_analysis"].Rows)
	assert.NotContains(t, stats, "mv_other")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsBadSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = New(mock, &stepClock{}, Config{Schema: "analytics;"}, nil)
	require.Error(t, err)
	_, err = New(mock, nil, Config{Schema: "analytics"}, nil)
	require.Error(t, err)
}
