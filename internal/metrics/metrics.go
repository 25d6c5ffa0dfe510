// Package metrics exposes Prometheus collectors for the monitor.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Monitor loop
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transhipment_ticks_total",
			Help: "Monitor ticks by outcome",
		},
		[]string{"outcome"}, // "ok", "no_data", "error"
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transhipment_tick_duration_seconds",
			Help:    "Wall time of one monitor tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunnerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transhipment_runner_state",
			Help: "1 for the monitor's current state, 0 otherwise",
		},
		[]string{"state"},
	)

	// Detection
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transhipment_verdicts_total",
			Help: "Classified encounter sessions by tier",
		},
		[]string{"tier"},
	)

	SkippedVessels = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transhipment_skipped_vessels_total",
			Help: "Vessels dropped for insufficient track data",
		},
	)

	// Alerting
	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transhipment_alerts_suppressed_total",
			Help: "Confirmed verdicts suppressed by the cool-down",
		},
	)

	AlertRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transhipment_alert_records_total",
			Help: "Alert records written",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transhipment_notifications_total",
			Help: "Notifier invocations by notifier and outcome",
		},
		[]string{"notifier", "outcome"}, // "ok", "error"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transhipment_notifier_breaker_state",
			Help: "Circuit breaker state per notifier (0=closed, 1=half-open, 2=open)",
		},
		[]string{"notifier"},
	)
)

// SetRunnerState marks state as current and clears the others.
func SetRunnerState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		RunnerState.WithLabelValues(s).Set(v)
	}
}

// Server serves /metrics until its context ends. It implements suture.Service.
type Server struct {
	Addr string
}

func (s *Server) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "metrics-server" }
