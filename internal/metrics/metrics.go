package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the ingestion pipeline
type Metrics struct {
	registry         *prometheus.Registry
	Archives         *prometheus.CounterVec
	Documents        *prometheus.CounterVec
	DocumentDuration prometheus.Histogram
}

// New creates the collectors on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Archives: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dmarcstore_archives_processed_total",
			Help: "Total number of report files processed by format and outcome",
		}, []string{"format", "outcome"}),
		Documents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dmarcstore_documents_ingested_total",
			Help: "Total number of xml documents ingested by outcome",
		}, []string{"outcome"}),
		DocumentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dmarcstore_document_ingest_duration_seconds",
			Help:    "Time spent parsing and storing a single xml document",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveArchive(format, outcome string) {
	m.Archives.WithLabelValues(format, outcome).Inc()
}

func (m *Metrics) ObserveDocument(outcome string, duration time.Duration) {
	m.Documents.WithLabelValues(outcome).Inc()
	m.DocumentDuration.Observe(duration.Seconds())
}

// Handler exposes the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
