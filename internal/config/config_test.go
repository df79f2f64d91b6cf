package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://mastodon.social", cfg.Mastodon.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Mastodon.APITimeout())
	assert.Equal(t, "ai", cfg.Crawl.Hashtag)
	assert.Equal(t, crawler.Window{Value: 1, Unit: crawler.UnitHours}, cfg.Crawl.Window())
	assert.Equal(t, 40, cfg.Crawl.TootsLimitPerPage)
	assert.Equal(t, 100, cfg.Crawl.MaxPages)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.MinDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, BackendHuggingFace, cfg.Sentiment.Backend)
	assert.Equal(t, 0.75, cfg.Sentiment.Threshold)
	assert.Equal(t, "mastodon_toots", cfg.DB.Name)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "transformed_toots_with_sentiment_data", cfg.Bronze.Table)
	assert.Equal(t, 1000, cfg.Bronze.UpsertBatchSize)
	assert.Equal(t, "dim_facts", cfg.Silver.Schema)
	assert.Equal(t, int64(727001), cfg.Silver.LockKey)
	assert.Equal(t, "analytics", cfg.Gold.Schema)
	assert.Equal(t, "mastodon_etl", cfg.Metrics.Job)
	assert.Zero(t, cfg.Server.Port)
	assert.False(t, cfg.PubSub.Enabled())
	assert.True(t, cfg.Models.Apply)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
mastodon:
  base_url: https://fosstodon.org/
  api_timeout_seconds: 60
crawl:
  hashtag: "#golang"
  time_period_unit: Days
  time_period_value: 7
  max_pages: 10
retry:
  max_attempts: 5
  min_delay: 1s
  max_delay: 4s
sentiment:
  backend: vader
  threshold: 0.5
notify:
  discord_enabled: true
  discord_webhook_url: https://discord.com/api/webhooks/1/abc
pubsub:
  project_id: proj
  topic_name: runs
server:
  port: 9090
logging:
  development: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://fosstodon.org", cfg.Mastodon.BaseURL)
	assert.Equal(t, "golang", cfg.Crawl.Hashtag)
	assert.Equal(t, crawler.Window{Value: 7, Unit: crawler.UnitDays}, cfg.Crawl.Window())
	assert.Equal(t, 10, cfg.Crawl.MaxPages)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, BackendVader, cfg.Sentiment.Backend)
	assert.True(t, cfg.Notify.DiscordEnabled)
	assert.True(t, cfg.PubSub.Enabled())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_CRAWL_HASHTAG", "rust")
	t.Setenv("PIPELINE_DB_HOST", "db.internal")
	t.Setenv("PIPELINE_RETRY_MAX_DELAY", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "rust", cfg.Crawl.Hashtag)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"timeout below range": "mastodon:\n  api_timeout_seconds: 2\n",
		"page size too big":   "crawl:\n  toots_limit_per_page: 80\n",
		"bad unit":            "crawl:\n  time_period_unit: weeks\n",
		"window too long":     "crawl:\n  time_period_value: 31\n",
		"empty hashtag":       "crawl:\n  hashtag: \"#\"\n",
		"bad scheme":          "mastodon:\n  base_url: ftp://example.com\n",
		"threshold":           "sentiment:\n  threshold: 1.5\n",
		"backend":             "sentiment:\n  backend: openai\n",
		"db port":             "db:\n  port: 70000\n",
		"retry order":         "retry:\n  min_delay: 5s\n  max_delay: 1s\n",
		"webhook":             "notify:\n  discord_enabled: true\n  discord_webhook_url: https://example.com/hook\n",
		"half pubsub":         "pubsub:\n  project_id: proj\n",
		"server port":         "server:\n  port: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestValidationErrorNamesKey(t *testing.T) {
	_, err := Load(writeConfig(t, "crawl:\n  max_pages: 500\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crawl.max_pages")
	assert.Contains(t, err.Error(), "lte=100")
}
