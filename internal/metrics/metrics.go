// Package metrics exposes sync measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// Metrics implements extract.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Records         *prometheus.CounterVec
	Stops           *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	ActiveStreams   prometheus.Gauge
	StreamDuration  *prometheus.HistogramVec
}

var _ extract.Metrics = (*Metrics)(nil)

// New creates a Metrics instance with registered collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests issued, by stream and outcome",
		}, []string{"stream", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "API request latency including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stream"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records emitted to the sink",
		}, []string{"stream"}),
		Stops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pagination_stops_total",
			Help:      "Pagination terminations by reason",
		}, []string{"stream", "reason"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Stream syncs that ended in error, by kind",
		}, []string{"stream", "kind"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams currently syncing",
		}),
		StreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time of one stream sync",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"stream"}),
	}
}

func (m *Metrics) ObserveRequest(stream string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(stream, outcome).Inc()
	m.RequestDuration.WithLabelValues(stream).Observe(d.Seconds())
}

func (m *Metrics) AddRecords(stream string, n int) {
	m.Records.WithLabelValues(stream).Add(float64(n))
}

func (m *Metrics) ObserveStop(stream string, reason extract.StopReason) {
	m.Stops.WithLabelValues(stream, string(reason)).Inc()
}

func (m *Metrics) ObserveFailure(stream string, kind extract.Kind) {
	m.Failures.WithLabelValues(stream, string(kind)).Inc()
}

// TrackStream tracks the duration of one stream sync.
func (m *Metrics) TrackStream(stream string, f func() error) error {
	m.ActiveStreams.Inc()
	defer m.ActiveStreams.Dec()

	start := time.Now()
	err := f()
	m.StreamDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())
	return err
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve runs a /metrics server on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
