// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
)

// Config captures every pipeline knob.
type Config struct {
	Mastodon  MastodonConfig  `mapstructure:"mastodon"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	DB        DBConfig        `mapstructure:"db"`
	Bronze    BronzeConfig    `mapstructure:"bronze"`
	Silver    SilverConfig    `mapstructure:"silver"`
	Gold      GoldConfig      `mapstructure:"gold"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Models    ModelsConfig    `mapstructure:"models"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// MastodonConfig points the crawler at an instance.
type MastodonConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required"`
	AccessToken       string  `mapstructure:"access_token"`
	APITimeoutSeconds int     `mapstructure:"api_timeout_seconds" validate:"gte=5,lte=120"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	UserAgent         string  `mapstructure:"user_agent"`
}

// APITimeout returns the request timeout as a duration.
func (m MastodonConfig) APITimeout() time.Duration {
	return time.Duration(m.APITimeoutSeconds) * time.Second
}

// CrawlConfig selects what to crawl.
type CrawlConfig struct {
	Hashtag           string `mapstructure:"hashtag" validate:"required"`
	TimePeriodUnit    string `mapstructure:"time_period_unit" validate:"oneof=hours days"`
	TimePeriodValue   int    `mapstructure:"time_period_value" validate:"gte=1,lte=30"`
	TootsLimitPerPage int    `mapstructure:"toots_limit_per_page" validate:"gte=1,lte=40"`
	MaxPages          int    `mapstructure:"max_pages" validate:"gte=1,lte=100"`
}

// RetryConfig controls feed retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	MinDelay    time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=MinDelay"`
	Multiplier  time.Duration `mapstructure:"multiplier" validate:"gte=0"`
	Jitter      bool          `mapstructure:"jitter"`
}

// Sentiment backends.
const (
	BackendHuggingFace = "huggingface"
	BackendVader       = "vader"
)

// SentimentConfig selects and tunes the sentiment model.
type SentimentConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Backend        string  `mapstructure:"backend" validate:"oneof=huggingface vader"`
	ModelName      string  `mapstructure:"model_name"`
	Endpoint       string  `mapstructure:"endpoint"`
	APIToken       string  `mapstructure:"api_token"`
	Threshold      float64 `mapstructure:"threshold" validate:"gte=0,lte=1"`
	BatchSize      int     `mapstructure:"batch_size" validate:"gte=1"`
	MaxChars       int     `mapstructure:"max_chars" validate:"gte=1"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" validate:"gte=1"`
}

// NotifyConfig enables Discord delivery.
type NotifyConfig struct {
	DiscordEnabled    bool   `mapstructure:"discord_enabled"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// DBConfig describes the Postgres connection.
type DBConfig struct {
	Name            string        `mapstructure:"name" validate:"required"`
	User            string        `mapstructure:"user" validate:"required"`
	Password        string        `mapstructure:"password"`
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BronzeConfig locates the raw table.
type BronzeConfig struct {
	Schema          string `mapstructure:"schema" validate:"required"`
	Table           string `mapstructure:"table" validate:"required"`
	UpsertBatchSize int    `mapstructure:"upsert_batch_size" validate:"gte=1"`
	DataVersion     string `mapstructure:"data_version"`
}

// SilverConfig locates the dimensional schema.
type SilverConfig struct {
	Schema  string `mapstructure:"schema" validate:"required"`
	LockKey int64  `mapstructure:"lock_key"`
}

// GoldConfig locates the analytics schema.
type GoldConfig struct {
	Schema            string `mapstructure:"schema" validate:"required"`
	ConcurrentRefresh bool   `mapstructure:"concurrent_refresh"`
}

// StorageConfig controls where the bronze fallback file lands.
type StorageConfig struct {
	FallbackDir string `mapstructure:"fallback_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
}

// PubSubConfig holds the run-report topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether run reports should be published.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// MetricsConfig configures the Pushgateway push.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the optional status server; port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// ModelsConfig toggles DDL application at startup.
type ModelsConfig struct {
	Apply bool `mapstructure:"apply"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from defaults, an optional file and the environment
// (PIPELINE_ prefix, dots become underscores).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mastodon.base_url", "https://mastodon.social")
	v.SetDefault("mastodon.access_token", "")
	v.SetDefault("mastodon.api_timeout_seconds", 30)
	v.SetDefault("mastodon.requests_per_second", 1.0)
	v.SetDefault("mastodon.user_agent", "mastodon-medallion-etl/1.0")
	v.SetDefault("crawl.hashtag", "ai")
	v.SetDefault("crawl.time_period_unit", "hours")
	v.SetDefault("crawl.time_period_value", 1)
	v.SetDefault("crawl.toots_limit_per_page", 40)
	v.SetDefault("crawl.max_pages", 100)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.min_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.multiplier", time.Second)
	v.SetDefault("retry.jitter", false)
	v.SetDefault("sentiment.enabled", true)
	v.SetDefault("sentiment.backend", BackendHuggingFace)
	v.SetDefault("sentiment.model_name", "cardiffnlp/twitter-roberta-base-sentiment-latest")
	v.SetDefault("sentiment.endpoint", "https://api-inference.huggingface.co/models/")
	v.SetDefault("sentiment.api_token", "")
	v.SetDefault("sentiment.threshold", 0.75)
	v.SetDefault("sentiment.batch_size", 32)
	v.SetDefault("sentiment.max_chars", 512)
	v.SetDefault("sentiment.timeout_seconds", 60)
	v.SetDefault("notify.discord_enabled", false)
	v.SetDefault("notify.discord_webhook_url", "")
	v.SetDefault("db.name", "mastodon_toots")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("bronze.schema", "bronze")
	v.SetDefault("bronze.table", "transformed_toots_with_sentiment_data")
	v.SetDefault("bronze.upsert_batch_size", 1000)
	v.SetDefault("bronze.data_version", "1.0")
	v.SetDefault("silver.schema", "dim_facts")
	v.SetDefault("silver.lock_key", 727001)
	v.SetDefault("gold.schema", "analytics")
	v.SetDefault("gold.concurrent_refresh", false)
	v.SetDefault("storage.fallback_dir", ".")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "fallback")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "mastodon_etl")
	v.SetDefault("server.port", 0)
	v.SetDefault("models.apply", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate normalizes values in place and enforces ranges. It trims the base
// URL's trailing slash and a leading '#' from the hashtag.
func (c *Config) Validate() error {
	c.Mastodon.BaseURL = strings.TrimRight(strings.TrimSpace(c.Mastodon.BaseURL), "/")
	c.Crawl.Hashtag = strings.TrimPrefix(strings.TrimSpace(c.Crawl.Hashtag), "#")
	c.Crawl.TimePeriodUnit = strings.ToLower(strings.TrimSpace(c.Crawl.TimePeriodUnit))
	c.Sentiment.Backend = strings.ToLower(strings.TrimSpace(c.Sentiment.Backend))

	if err := validate.Struct(c); err != nil {
		return describe(err)
	}

	u, err := url.Parse(c.Mastodon.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("mastodon.base_url must be an http(s) url, got %q", c.Mastodon.BaseURL)
	}
	if c.Notify.DiscordEnabled && !strings.HasPrefix(c.Notify.DiscordWebhookURL, "https://discord.com/api/webhooks/") {
		return fmt.Errorf("notify.discord_webhook_url must start with https://discord.com/api/webhooks/ when discord is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Storage.FallbackDir == "" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.fallback_dir or storage.gcs_bucket is required")
	}
	return nil
}

// describe flattens validator errors into "section.key: rule" messages.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if _, rest, ok := strings.Cut(ns, "."); ok {
			ns = rest
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", ns, rule, fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Window returns the crawl lookback.
func (c CrawlConfig) Window() crawler.Window {
	return crawler.Window{Value: c.TimePeriodValue, Unit: crawler.WindowUnit(c.TimePeriodUnit)}
}
