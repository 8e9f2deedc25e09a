package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/actionlog"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/metrics"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
)

// Actions periodically drains the action buffer into the paint table.
// The action log is best-effort: a failed chunk is dropped, the canvas
// remains the source of truth.
type Actions struct {
	buffer  *actionlog.Buffer
	store   *store.Store
	period  time.Duration
	chunk   int
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// NewActions creates the actions worker.
func NewActions(b *actionlog.Buffer, s *store.Store, period time.Duration, chunk int, logger zerolog.Logger, m *metrics.Registry) *Actions {
	return &Actions{
		buffer:  b,
		store:   s,
		period:  period,
		chunk:   chunk,
		logger:  logger.With().Str("component", "actions-worker").Logger(),
		metrics: m,
	}
}

// Run flushes on every period tick until ctx is cancelled, then makes one
// final pass so a clean shutdown persists what it can.
func (w *Actions) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// Flush drains the buffer and inserts it chunk by chunk, returning how
// many actions were persisted.
func (w *Actions) Flush(ctx context.Context) int {
	drained := w.buffer.Drain()
	if len(drained) == 0 {
		return 0
	}

	w.logger.Info().Int("actions", len(drained)).Msg("saving actions")

	rows := make([]store.PaintRow, len(drained))
	for i, a := range drained {
		rows[i] = store.PaintRow{
			X:     int(a.X),
			Y:     int(a.Y),
			Color: a.Color.Hex(),
			UID:   a.UID,
			Time:  a.Time,
		}
	}

	written := 0
	for len(rows) > 0 {
		n := min(w.chunk, len(rows))
		if err := w.store.InsertActions(ctx, rows[:n]); err != nil {
			w.logger.Error().Err(err).Int("chunk", n).Msg("action chunk insert failed, dropping")
			if w.metrics != nil {
				w.metrics.FlushErrors.Inc()
			}
		} else {
			written += n
		}
		rows = rows[n:]
	}

	if w.metrics != nil {
		w.metrics.ActionsFlushed.Add(float64(written))
	}

	return written
}
