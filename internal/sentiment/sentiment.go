// Package sentiment enriches normalized records with a sentiment label and
// confidence score produced by a pluggable model.
package sentiment

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
)

// Canonical labels written to the bronze layer.
const (
	LabelPositive = "Positive"
	LabelNegative = "Negative"
	LabelNeutral  = "Neutral"
)

const (
	DefaultBatchSize = 32
	DefaultMaxChars  = 512
	DefaultThreshold = 0.75
	// DefaultModel is the Hugging Face model used when none is configured.
	DefaultModel = "cardiffnlp/twitter-roberta-base-sentiment-latest"
)

// Prediction is a model's raw answer for one text.
type Prediction struct {
	Label string
	Score float64
}

// Model classifies batches of texts. Implementations return exactly one
// prediction per input, in order.
type Model interface {
	Name() string
	ClassifyBatch(ctx context.Context, texts []string) ([]Prediction, error)
}

// Config tunes an Analyzer.
type Config struct {
	Threshold float64
	BatchSize int
	MaxChars  int
}

// Analyzer applies a Model to records, enforcing the confidence threshold.
type Analyzer struct {
	model  Model
	cfg    Config
	logger *zap.Logger
}

// Stats reports how an Apply call went.
type Stats struct {
	Scored        int
	Skipped       int
	FailedBatches int
	ForcedNeutral int
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(model Model, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{model: model, cfg: cfg, logger: logger}
}

// Apply scores every record with text, in batches. A failed batch leaves its
// records unscored; Apply itself only fails when ctx ends.
func (a *Analyzer) Apply(ctx context.Context, records []normalize.Record) (Stats, error) {
	var stats Stats
	modelName := a.model.Name()

	var idx []int
	var texts []string
	for i := range records {
		records[i].SentimentModelName = &modelName
		text := strings.TrimSpace(records[i].Text())
		if text == "" {
			stats.Skipped++
			continue
		}
		idx = append(idx, i)
		texts = append(texts, truncate(text, a.cfg.MaxChars))
	}

	for start := 0; start < len(texts); start += a.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+a.cfg.BatchSize, len(texts))
		preds, err := a.model.ClassifyBatch(ctx, texts[start:end])
		if err == nil && len(preds) != end-start {
			err = errPredictionCount(len(preds), end-start)
		}
		if err != nil {
			stats.FailedBatches++
			a.logger.Error("sentiment batch failed",
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Error(err),
			)
			continue
		}
		for j, pred := range preds {
			rec := &records[idx[start+j]]
			label, score, forced := a.decide(pred)
			if forced {
				stats.ForcedNeutral++
			}
			rec.SentimentValue = &label
			rec.SentimentScore = &score
			stats.Scored++
		}
		a.logger.Debug("sentiment progress", zap.Int("processed", end), zap.Int("total", len(texts)))
	}
	return stats, nil
}

// decide maps the raw label and forces Neutral below the threshold.
func (a *Analyzer) decide(pred Prediction) (string, float64, bool) {
	label := MapLabel(pred.Label)
	forced := false
	if pred.Score < a.cfg.Threshold && label != LabelNeutral {
		label = LabelNeutral
		forced = true
	}
	return label, Round4(pred.Score), forced
}

// MapLabel folds model-specific labels onto the canonical set. Unknown
// labels are returned unchanged.
func MapLabel(label string) string {
	lower := strings.ToLower(label)
	switch {
	case strings.Contains(lower, "pos"):
		return LabelPositive
	case strings.Contains(lower, "neg"):
		return LabelNegative
	case strings.Contains(lower, "neu"):
		return LabelNeutral
	default:
		return label
	}
}

// Round4 rounds half away from zero to four decimals.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
