package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
)

// CollectSystem samples CPU and runtime memory stats into the registry
// until ctx is cancelled. Meant to run as its own goroutine.
func (r *Registry) CollectSystem(ctx context.Context, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleSystem(logger)
		}
	}
}

func (r *Registry) sampleSystem(logger zerolog.Logger) {
	// Non-blocking sample; interval 0 compares against the previous call.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		logger.Debug().Err(err).Msg("cpu sample failed")
	} else if len(percents) > 0 {
		r.CPUPercent.Set(percents[0])
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	r.HeapBytes.Set(float64(mem.HeapAlloc))
	r.Goroutines.Set(float64(runtime.NumGoroutine()))
}
