// Package metrics exposes Prometheus instrumentation for the HTTP surface,
// the job queue, and the media library.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/queue"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// Metrics holds all collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestCount    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	SegmentBytesServed  prometheus.Counter

	QueueDepth    prometheus.Gauge
	ItemsByStatus *prometheus.GaugeVec
}

// New builds a Metrics set on a fresh registry, including the standard Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vodarr_http_requests_total",
			Help: "HTTP requests served, by method, route group and status code",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vodarr_http_request_duration_seconds",
			Help:    "HTTP request latency, by route group",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		SegmentBytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vodarr_segment_bytes_served_total",
			Help: "Bytes of HLS segment data served",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vodarr_transcode_queue_depth",
			Help: "Jobs currently waiting in the transcode queue",
		}),
		ItemsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vodarr_media_items",
			Help: "Media items in the library, by lifecycle status",
		}, []string{"status"}),
	}
}

// Handler returns the /metrics scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observableStatuses are the lifecycle states exported by the library gauge.
// Exporting the full set keeps series present at zero instead of appearing
// and disappearing.
var observableStatuses = []models.MediaStatus{
	models.StatusRequested,
	models.StatusDownloading,
	models.StatusDownloadComplete,
	models.StatusTranscoding,
	models.StatusReady,
	models.StatusError,
}

// Sample refreshes the queue depth and items-by-status gauges once.
func (m *Metrics) Sample(ctx context.Context, repo repository.MediaItemRepository, jobs queue.JobQueue) {
	if depth, err := jobs.Len(ctx); err == nil {
		m.QueueDepth.Set(float64(depth))
	}

	for _, status := range observableStatuses {
		items, err := repo.ListByStatus(ctx, status)
		if err != nil {
			continue
		}
		m.ItemsByStatus.WithLabelValues(string(status)).Set(float64(len(items)))
	}
}

// RunSampler refreshes the gauges every interval until the context ends.
func (m *Metrics) RunSampler(ctx context.Context, repo repository.MediaItemRepository, jobs queue.JobQueue, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Sample(ctx, repo, jobs)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(ctx, repo, jobs)
		}
	}
}
