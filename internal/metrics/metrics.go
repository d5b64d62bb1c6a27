// Package metrics exposes Prometheus instrumentation for the chunk pipelines,
// chunk stores and the token broker.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chunkvault"

// Metrics holds all collectors. Create one per registry; tests use a fresh
// prometheus.NewRegistry so instances never collide.
type Metrics struct {
	gatherer prometheus.Gatherer

	chunkOperations *prometheus.CounterVec
	chunkDuration   *prometheus.HistogramVec
	chunkBytes      *prometheus.CounterVec
	chunkErrors     *prometheus.CounterVec

	storeOperations *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec

	tokenRefreshes *prometheus.CounterVec
	pipelineRuns   *prometheus.CounterVec
	stagingSwept   prometheus.Counter
}

// New registers collectors on reg. When reg is also a Gatherer (as
// *prometheus.Registry is) Handler serves it, otherwise the default gatherer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Metrics{
		gatherer: gatherer,
		chunkOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_operations_total",
			Help:      "Chunk encrypt/decrypt operations.",
		}, []string{"operation"}),
		chunkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_operation_duration_seconds",
			Help:      "Chunk encrypt/decrypt duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"operation"}),
		chunkBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Plaintext bytes encrypted or decrypted.",
		}, []string{"operation"}),
		chunkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_errors_total",
			Help:      "Chunk processing failures by error kind.",
		}, []string{"operation", "error_type"}),
		storeOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Chunk store operations.",
		}, []string{"backend", "operation"}),
		storeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Chunk store operation duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Chunk store failures by error kind.",
		}, []string{"backend", "operation", "error_type"}),
		tokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Remote access token refresh attempts.",
		}, []string{"backend", "result"}),
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Upload/download pipeline runs by outcome.",
		}, []string{"pipeline", "result"}),
		stagingSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staging_swept_total",
			Help:      "Abandoned staging artifacts and pending uploads removed.",
		}),
	}
}

// ErrorType classifies err for metric labels.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, common.ErrIntegrity):
		return "integrity"
	case errors.Is(err, common.ErrCorruption):
		return "corruption"
	case errors.Is(err, common.ErrAuth):
		return "auth"
	case errors.Is(err, common.ErrTransient):
		return "transient"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	case errors.Is(err, common.ErrQuotaExceeded):
		return "quota"
	default:
		return "other"
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordChunk records one encrypt or decrypt of n plaintext bytes.
func (m *Metrics) RecordChunk(operation string, n int, d time.Duration, err error) {
	m.chunkOperations.WithLabelValues(operation).Inc()
	m.chunkDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.chunkErrors.WithLabelValues(operation, ErrorType(err)).Inc()
		return
	}
	m.chunkBytes.WithLabelValues(operation).Add(float64(n))
}

// RecordChunkError records a failure that happened before the cipher ran,
// for example a checksum mismatch.
func (m *Metrics) RecordChunkError(operation string, err error) {
	m.chunkErrors.WithLabelValues(operation, ErrorType(err)).Inc()
}

// RecordStore records one chunk store call.
func (m *Metrics) RecordStore(backend, operation string, d time.Duration, err error) {
	m.storeOperations.WithLabelValues(backend, operation).Inc()
	m.storeDuration.WithLabelValues(backend, operation).Observe(d.Seconds())
	if err != nil {
		m.storeErrors.WithLabelValues(backend, operation, ErrorType(err)).Inc()
	}
}

func (m *Metrics) RecordTokenRefresh(backend string, err error) {
	m.tokenRefreshes.WithLabelValues(backend, result(err)).Inc()
}

func (m *Metrics) RecordPipeline(pipeline string, err error) {
	m.pipelineRuns.WithLabelValues(pipeline, result(err)).Inc()
}

func (m *Metrics) RecordSwept(n int) {
	m.stagingSwept.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
