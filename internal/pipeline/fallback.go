package pipeline

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/bronze"
)

const csvContentType = "text/csv"

// writeFallback saves the normalized batch as CSV so a failed bronze load
// loses nothing. Failures here are logged; the run is already failing.
func (st *run) writeFallback(ctx context.Context) {
	if st.deps.Fallback == nil {
		st.logger.Warn("no fallback store configured, batch not saved", zap.Int("records", len(st.records)))
		return
	}
	var buf bytes.Buffer
	if err := bronze.WriteCSV(&buf, st.records); err != nil {
		st.logger.Error("fallback csv encode failed", zap.Error(err))
		return
	}
	name := bronze.FallbackFileName(st.deps.Clock.Now())
	uri, err := st.deps.Fallback.PutObject(ctx, name, csvContentType, &buf)
	if err != nil {
		st.logger.Error("fallback csv not saved", zap.String("object", name), zap.Error(err))
		return
	}
	st.out.FallbackURI = uri
	st.logger.Warn("bronze load failed, batch saved to fallback", zap.String("uri", uri), zap.Int("records", len(st.records)))
}
