// Package metrics exposes Prometheus instrumentation for the ingestion
// core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rtms_ingest"

var (
	// activeSessions is a gauge of stream sessions currently registered.
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of currently active stream sessions",
		},
	)

	// mediaFramesTotal counts decoded media frames by media type.
	mediaFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_frames_total",
			Help:      "Total media frames received, by media type",
		},
		[]string{"media_type"},
	)

	// fillerFramesTotal counts synthetic frames emitted by the gap fillers.
	fillerFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filler_frames_total",
			Help:      "Total synthetic filler frames emitted, by media type",
		},
		[]string{"media_type"},
	)

	// reconnectsTotal counts socket reconnect attempts by socket kind.
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Total socket reconnect attempts, by socket kind",
		},
		[]string{"socket"}, // socket: signaling, media
	)

	// chunksFlushedTotal counts transcript chunks flushed to the index.
	chunksFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_flushed_total",
			Help:      "Total transcript chunks flushed to the index",
		},
	)

	// summariesTotal counts speaker summarisation runs by outcome.
	summariesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total speaker summarisation runs, by status",
		},
		[]string{"status"}, // status: success, error
	)

	// adapterFailuresTotal counts soft adapter failures by adapter name.
	adapterFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_failures_total",
			Help:      "Total soft adapter failures, by adapter",
		},
		[]string{"adapter"},
	)

	// streamErrorsTotal counts stream errors by category.
	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total stream errors, by category",
		},
		[]string{"category"},
	)

	allMetrics = []prometheus.Collector{
		activeSessions,
		mediaFramesTotal,
		fillerFramesTotal,
		reconnectsTotal,
		chunksFlushedTotal,
		summariesTotal,
		adapterFailuresTotal,
		streamErrorsTotal,
	}
)

// Registry holds every collector of the service plus the Go runtime
// collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns the scrape handler for a registry built by Registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SessionStarted records a stream session entering the registry.
func SessionStarted() {
	activeSessions.Inc()
}

// SessionEnded records a stream session leaving the registry.
func SessionEnded() {
	activeSessions.Dec()
}

// RecordMediaFrame records one received media frame.
func RecordMediaFrame(mediaType string) {
	mediaFramesTotal.WithLabelValues(mediaType).Inc()
}

// RecordFillerFrame records one synthetic filler frame.
func RecordFillerFrame(mediaType string) {
	fillerFramesTotal.WithLabelValues(mediaType).Inc()
}

// RecordReconnect records one reconnect attempt.
func RecordReconnect(socket string) {
	reconnectsTotal.WithLabelValues(socket).Inc()
}

// RecordChunkFlushed records one chunk flush.
func RecordChunkFlushed() {
	chunksFlushedTotal.Inc()
}

// RecordSummary records one summarisation run.
func RecordSummary(status string) {
	summariesTotal.WithLabelValues(status).Inc()
}

// RecordAdapterFailure records one soft adapter failure.
func RecordAdapterFailure(adapter string) {
	adapterFailuresTotal.WithLabelValues(adapter).Inc()
}

// RecordStreamError records one stream error.
func RecordStreamError(category string) {
	streamErrorsTotal.WithLabelValues(category).Inc()
}
