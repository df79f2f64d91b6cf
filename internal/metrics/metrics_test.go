package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)

	m.ObserveRecords("extract", 40)
	m.ObserveRecords("extract", 0)
	m.ObserveRejected("missing_id")
	m.ObserveBronzeLoad("copy")
	m.ObserveAccounts(1, 2, 3)
	m.ObserveViewRefresh("mv_sentiment_trends", false)
	m.MarkSuccess(time.Unix(1700000000, 0))

	require.Equal(t, 40.0, testutil.ToFloat64(m.records.WithLabelValues("extract")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("missing_id")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bronzeLoads.WithLabelValues("copy")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.accounts.WithLabelValues("inserted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.viewRefreshes.WithLabelValues("mv_sentiment_trends", "error")))
	require.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastSuccess))
}

func TestHandlerExposesRegistry(t *testing.T) {
	t.Parallel()

	m, err := New()
	require.NoError(t, err)
	m.ObserveBronzeLoad("upsert")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `etl_bronze_loads_total{method="upsert"} 1`)
}

func TestPush(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		path.Store(r.URL.Path)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := New()
	require.NoError(t, err)
	require.NoError(t, m.Push(context.Background(), "", "mastodon_etl", "run_1"), "empty url is a no-op")
	require.Zero(t, hits.Load())

	require.NoError(t, m.Push(context.Background(), srv.URL, "mastodon_etl", "run_1"))
	require.Equal(t, int32(1), hits.Load())
	got, _ := path.Load().(string)
	require.True(t, strings.HasPrefix(got, "/metrics/job/mastodon_etl"), got)
	require.Contains(t, got, "instance/run_1")
}

func TestPushFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, err := New()
	require.NoError(t, err)
	require.Error(t, m.Push(context.Background(), srv.URL, "mastodon_etl", ""))
}
