package sentiment

import (
	"context"
	"math"
	"regexp"

	"github.com/jonreiter/govader"
)

// VaderModelName is stamped on records scored by the lexicon model.
const VaderModelName = "vader"

const vaderCutoff = 0.20

var urlPattern = regexp.MustCompile(`https?://\S+|www\.\S+`)

// Vader is an in-process lexicon model. Its compound score is folded into a
// label and a confidence in [0,1].
type Vader struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVader constructs the lexicon model.
func NewVader() *Vader {
	return &Vader{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

// Name implements Model.
func (v *Vader) Name() string {
	return VaderModelName
}

// ClassifyBatch implements Model.
func (v *Vader) ClassifyBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	out := make([]Prediction, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, v.classify(text))
	}
	return out, nil
}

func (v *Vader) classify(text string) Prediction {
	compound := v.analyzer.PolarityScores(urlPattern.ReplaceAllString(text, "")).Compound
	switch {
	case compound >= vaderCutoff:
		return Prediction{Label: "positive", Score: math.Abs(compound)}
	case compound <= -vaderCutoff:
		return Prediction{Label: "negative", Score: math.Abs(compound)}
	default:
		return Prediction{Label: "neutral", Score: 1 - math.Abs(compound)}
	}
}
