package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"transhipment-watch/internal/logging"
	"transhipment-watch/internal/metrics"
)

// Notifier delivers a batch of fresh confirmed verdicts. A nil error means
// the whole batch was delivered.
type Notifier interface {
	Notify(ctx context.Context, verdicts []Verdict) error
	Name() string
}

// LogNotifier only writes verdicts to the log. Used when delivery is
// switched off.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(ctx context.Context, verdicts []Verdict) error {
	for _, v := range verdicts {
		logging.Ctx(ctx).Info().
			Str("pair", v.Key().String()).
			Str("priority", string(v.Priority)).
			Int("duration_min", v.DurationMin).
			Float64("lat", v.Latitude).
			Float64("lon", v.Longitude).
			Str("nearest_port", v.NearestPort).
			Str("fingerprint", v.Fingerprint).
			Msg("transhipment alert")
	}
	return nil
}

// MultiNotifier fans a batch out to every member. It fails if any member
// fails; members are always all attempted.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Name() string { return "multi" }

func (m *MultiNotifier) Notify(ctx context.Context, verdicts []Verdict) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, verdicts); err != nil {
			metrics.NotificationsTotal.WithLabelValues(n.Name(), "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(n.Name(), "ok").Inc()
	}
	return errors.Join(errs...)
}

// BreakerConfig tunes the circuit breaker around a notifier.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Default 3.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 1m.
	OpenTimeout time.Duration
}

// BreakerNotifier stops calling a failing notifier for a while so that a
// dead endpoint does not slow every tick down.
type BreakerNotifier struct {
	inner Notifier
	cb    *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerNotifier(inner Notifier, cfg BreakerConfig) *BreakerNotifier {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	name := inner.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("notifier", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("notifier circuit breaker state changed")
		},
	}
	return &BreakerNotifier{inner: inner, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (b *BreakerNotifier) Name() string { return b.inner.Name() }

func (b *BreakerNotifier) Notify(ctx context.Context, verdicts []Verdict) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Notify(ctx, verdicts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s circuit open", ErrNotificationFailure, b.inner.Name())
	}
	return err
}

// State exposes the breaker state.
func (b *BreakerNotifier) State() gobreaker.State {
	return b.cb.State()
}
