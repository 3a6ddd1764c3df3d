// Package metrics exposes bubble's operational counters via
// prometheus/client_golang. The teacher depends on client_golang in
// go.mod but never actually imports it anywhere in its own tree (its
// own metrics_collector.go in pkg/devclaw/copilot hand-rolls atomic
// counters and a webhook push instead); this package is the
// wire-it-not-delete-it home for that otherwise-dead dependency,
// shaped around the same Record*-method idiom metrics_collector.go
// uses, but backed by real prometheus collectors instead of
// atomic.Int64 fields.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the collectors bubble records against. A nil
// *Registry is not valid; use New.
type Registry struct {
	reg *prometheus.Registry

	BubblesCreated     prometheus.Counter
	BubblesDestroyed   prometheus.Counter
	BubblesActive      prometheus.Gauge
	ImageBuilds        *prometheus.CounterVec
	ImageBuildSeconds  *prometheus.HistogramVec
	ProvisionSeconds   prometheus.Histogram
	DoctorDiscrepancies *prometheus.CounterVec
	RelayConnections   prometheus.Counter
	RelayRejections    *prometheus.CounterVec
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		BubblesCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "bubbles_created_total",
			Help:      "Number of bubble containers created.",
		}),
		BubblesDestroyed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "bubbles_destroyed_total",
			Help:      "Number of bubble containers destroyed.",
		}),
		BubblesActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "bubble",
			Name:      "bubbles_active",
			Help:      "Number of bubble containers currently registered.",
		}),
		ImageBuilds: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "image_builds_total",
			Help:      "Number of image builds attempted, by image name and outcome.",
		}, []string{"image", "outcome"}),
		ImageBuildSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bubble",
			Name:      "image_build_seconds",
			Help:      "Image build duration in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"image"}),
		ProvisionSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "bubble",
			Name:      "provision_seconds",
			Help:      "Time to provision a bubble end to end, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		DoctorDiscrepancies: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "doctor_discrepancies_total",
			Help:      "Discrepancies found by doctor reconciliation, by kind.",
		}, []string{"kind"}),
		RelayConnections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "relay_connections_total",
			Help:      "Accepted relay daemon connections.",
		}),
		RelayRejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "bubble",
			Name:      "relay_rejections_total",
			Help:      "Rejected relay daemon connections, by reason.",
		}, []string{"reason"}),
	}
	return m
}

// ObserveImageBuild records the outcome and duration of an image build.
func (m *Registry) ObserveImageBuild(image string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ImageBuilds.WithLabelValues(image, outcome).Inc()
	m.ImageBuildSeconds.WithLabelValues(image).Observe(d.Seconds())
}

// Handler returns the HTTP handler that serves this registry's
// metrics in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ServeBackground starts an HTTP server exposing /metrics on addr and
// returns a shutdown function. An empty addr disables the
// server: metrics recording still works in-process, it just isn't
// scraped.
func ServeBackground(ctx context.Context, addr string, reg *Registry, logger *slog.Logger) (func(context.Context) error, error) {
	if addr == "" {
		return func(context.Context) error { return nil }, nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	return srv.Shutdown, nil
}
