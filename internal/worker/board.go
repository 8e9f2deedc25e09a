// Package worker contains the background durability loops that reconcile
// in-memory state with the store. Neither loop ever blocks the hot path.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/canvas"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/metrics"
	"github.com/Nikaidou-Shinku/yur-paintboard/internal/store"
)

// Board periodically diffs the canvas against its private shadow copy and
// upserts changed cells.
type Board struct {
	canvas  *canvas.Canvas
	store   *store.Store
	period  time.Duration
	chunk   int
	logger  zerolog.Logger
	metrics *metrics.Registry

	// shadow holds the last persisted timestamp per cell, indexed x-major
	// like the canvas. A stale shadow after restart only costs one extra
	// upsert pass.
	shadow []time.Time
}

// NewBoard creates the board worker with its shadow initialized from the
// current canvas, which the bootstrap has just loaded from the store.
func NewBoard(c *canvas.Canvas, s *store.Store, period time.Duration, chunk int, logger zerolog.Logger, m *metrics.Registry) *Board {
	shadow := make([]time.Time, c.Width()*c.Height())

	i := 0
	c.Range(func(_, _ uint16, cell canvas.Cell) bool {
		shadow[i] = cell.Time
		i++
		return true
	})

	return &Board{
		canvas:  c,
		store:   s,
		period:  period,
		chunk:   chunk,
		logger:  logger.With().Str("component", "board-worker").Logger(),
		metrics: m,
		shadow:  shadow,
	}
}

// Run flushes on every period tick until ctx is cancelled.
func (w *Board) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Flush(ctx); err != nil {
				w.logger.Error().Err(err).Msg("board flush failed")
			}
		}
	}
}

// Flush walks the canvas once, upserting every cell whose timestamp moved
// since the last flush, and returns how many cells were written. A failed
// chunk is logged and skipped, and its cells are written again on the next
// flush; the loop keeps serving.
func (w *Board) Flush(ctx context.Context) (int, error) {
	start := time.Now()

	var changed []store.BoardRow
	i := 0
	w.canvas.Range(func(x, y uint16, cell canvas.Cell) bool {
		if !cell.Time.Equal(w.shadow[i]) {
			w.shadow[i] = cell.Time
			changed = append(changed, store.BoardRow{
				X:     int(x),
				Y:     int(y),
				Color: cell.Color.Hex(),
				UID:   cell.UID,
				Time:  cell.Time,
			})
		}
		i++
		return true
	})

	w.logger.Info().Int("changed", len(changed)).Msg("board diff")

	written := 0
	for len(changed) > 0 {
		n := min(w.chunk, len(changed))
		if err := w.store.UpsertCells(ctx, changed[:n]); err != nil {
			w.logger.Error().Err(err).Int("chunk", n).Msg("board chunk upsert failed")
			if w.metrics != nil {
				w.metrics.FlushErrors.Inc()
			}
			// Forget the persisted timestamps so the next pass sees these
			// cells as changed again.
			for _, r := range changed[:n] {
				w.shadow[r.X*w.canvas.Height()+r.Y] = time.Time{}
			}
		} else {
			written += n
		}
		changed = changed[n:]
	}

	if w.metrics != nil {
		w.metrics.CellsFlushed.Add(float64(written))
		w.metrics.BoardFlushSeconds.Observe(time.Since(start).Seconds())
	}

	return written, nil
}
