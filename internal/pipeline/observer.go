package pipeline

import (
	"time"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/progress"
)

// PageEvents forwards crawler page notifications to a progress emitter.
type PageEvents struct {
	RunID  string
	Clock  Clock
	Events progress.Emitter
}

// PageFetched implements crawler.PageObserver.
func (p PageEvents) PageFetched(page int, posts int, elapsed time.Duration) {
	if p.Events == nil || p.Clock == nil {
		return
	}
	p.Events.Emit(progress.Event{
		RunID:   p.RunID,
		TS:      p.Clock.Now().UTC(),
		Kind:    progress.KindPage,
		Stage:   progress.StageExtract,
		Page:    page,
		Records: int64(posts),
		Dur:     nonNegative(elapsed),
	})
}
