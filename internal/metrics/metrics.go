// Package metrics wraps the Prometheus collectors exposed by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector used by the serving plane.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections prometheus.Gauge
	PaintsAccepted    prometheus.Counter
	PaintsTooFast     prometheus.Counter
	TrashFrames       prometheus.Counter
	DeltasPublished   prometheus.Counter
	DeltasDropped     prometheus.Counter
	SnapshotsSent     prometheus.Counter
	SnapshotBytes     prometheus.Counter
	CellsFlushed      prometheus.Counter
	ActionsFlushed    prometheus.Counter
	FlushErrors       prometheus.Counter
	BoardFlushSeconds prometheus.Histogram

	CPUPercent prometheus.Gauge
	HeapBytes  prometheus.Gauge
	Goroutines prometheus.Gauge
}

// NewRegistry creates the collectors on a private Prometheus registry so
// multiple instances (tests included) never collide.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	reg.MustRegister(collectors.NewGoCollector())

	return &Registry{
		reg: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paintboard_connections_active",
			Help: "Number of open WebSocket connections",
		}),
		PaintsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_paints_accepted_total",
			Help: "Paints admitted through the admission pipeline",
		}),
		PaintsTooFast: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_paints_too_fast_total",
			Help: "Paints rejected by the per-user interval",
		}),
		TrashFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_trash_frames_total",
			Help: "Malformed or out-of-state frames received",
		}),
		DeltasPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_deltas_published_total",
			Help: "Pixel deltas published to the broadcast hub",
		}),
		DeltasDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_deltas_dropped_total",
			Help: "Pixel deltas dropped on lagging subscribers",
		}),
		SnapshotsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_snapshots_sent_total",
			Help: "Full board snapshots sent to clients",
		}),
		SnapshotBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_snapshot_bytes_total",
			Help: "Compressed snapshot bytes sent to clients",
		}),
		CellsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_cells_flushed_total",
			Help: "Changed cells upserted by the board worker",
		}),
		ActionsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_actions_flushed_total",
			Help: "Paint actions inserted by the actions worker",
		}),
		FlushErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "paintboard_flush_errors_total",
			Help: "Failed durability chunks",
		}),
		BoardFlushSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "paintboard_board_flush_seconds",
			Help:    "Duration of one board diff-and-upsert pass",
			Buckets: prometheus.DefBuckets,
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paintboard_cpu_percent",
			Help: "System CPU usage sampled by the collector",
		}),
		HeapBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paintboard_heap_alloc_bytes",
			Help: "Current heap allocation",
		}),
		Goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "paintboard_goroutines",
			Help: "Number of live goroutines",
		}),
	}
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
