package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"transhipment-watch/internal/logging"
	"transhipment-watch/internal/metrics"
)

// State is the monitor's position in its tick cycle.
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
	StateAlerting State = "alerting"
)

var allStates = []string{string(StateIdle), string(StateChecking), string(StateAlerting)}

// DeliveryStore is the alert history the runner needs: dedup lookups plus
// delivery bookkeeping.
type DeliveryStore interface {
	AlertStore
	MarkDelivery(ctx context.Context, id string, deliveryErr error) error
	Pending(ctx context.Context, maxAttempts int) ([]AlertRecord, error)
}

type RunnerConfig struct {
	Detection DetectionConfig
	// Interval between ticks. Default 5m.
	Interval time.Duration
	// Lookback is the query window ending at the tick time. Default 60m.
	Lookback time.Duration
	// Cooldown suppresses re-alerts of the same fingerprint. Default 24h.
	Cooldown time.Duration
	// Timeout bounds one tick. Zero means no limit.
	Timeout time.Duration
	// MaxDeliveryAttempts caps retries of an undelivered record. Zero means
	// retry forever.
	MaxDeliveryAttempts int
}

// TickResult reports what one tick did.
type TickResult struct {
	Confirmed  int
	Candidate  int
	Rejected   int
	Fresh      int
	Suppressed int
	RecordID   string
	Delivered  bool
	Retried    int
	Stats      DetectionStats
}

// Runner drives detection on a timer and hands fresh alerts to the notifier.
type Runner struct {
	cfg      RunnerConfig
	source   SignalSource
	alerts   DeliveryStore
	notifier Notifier
	dedup    *Deduplicator
	now      func() time.Time

	mu    sync.Mutex
	state State
}

func NewRunner(cfg RunnerConfig, source SignalSource, alerts DeliveryStore, notifier Notifier) (*Runner, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: signal source is required", ErrConfiguration)
	}
	if alerts == nil {
		return nil, fmt.Errorf("%w: alert store is required", ErrConfiguration)
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 60 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxDeliveryAttempts < 0 {
		return nil, fmt.Errorf("%w: max delivery attempts must not be negative", ErrConfiguration)
	}
	if err := cfg.Detection.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:      cfg,
		source:   source,
		alerts:   alerts,
		notifier: notifier,
		dedup:    NewDeduplicator(alerts, cfg.Cooldown, cfg.Detection.timeGap()),
		now:      time.Now,
		state:    StateIdle,
	}
	metrics.SetRunnerState(string(StateIdle), allStates)
	return r, nil
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	metrics.SetRunnerState(string(s), allStates)
}

// RunOnce performs one tick: retry undelivered records, detect over the
// lookback window, record fresh alerts, then notify once with the batch.
func (r *Runner) RunOnce(ctx context.Context) (TickResult, error) {
	start := time.Now()
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	log := logging.Ctx(ctx)

	res, err := r.tick(ctx)
	r.setState(StateIdle)
	metrics.TickDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.TicksTotal.WithLabelValues("ok").Inc()
		log.Info().
			Int("confirmed", res.Confirmed).
			Int("candidate", res.Candidate).
			Int("fresh", res.Fresh).
			Int("suppressed", res.Suppressed).
			Int("retried", res.Retried).
			Dur("elapsed", time.Since(start)).
			Msg("tick done")
	case errors.Is(err, ErrDataUnavailable):
		metrics.TicksTotal.WithLabelValues("no_data").Inc()
		log.Warn().Err(err).Msg("tick skipped: no data")
	default:
		metrics.TicksTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("tick failed")
	}
	return res, err
}

func (r *Runner) tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	r.setState(StateChecking)

	retried, err := r.resendPending(ctx)
	res.Retried = retried
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("resend pending alert records")
	}

	end := r.now().UTC()
	begin := end.Add(-r.cfg.Lookback)
	det, err := DetectWindow(ctx, r.source, begin, end, r.cfg.Detection)
	if err != nil {
		return res, err
	}
	res.Stats = det.Stats
	res.Confirmed = len(det.Confirmed)
	res.Candidate = len(det.Candidate)
	res.Rejected = len(det.Rejected)
	metrics.VerdictsTotal.WithLabelValues(string(TierConfirmed)).Add(float64(res.Confirmed))
	metrics.VerdictsTotal.WithLabelValues(string(TierCandidate)).Add(float64(res.Candidate))
	metrics.VerdictsTotal.WithLabelValues(string(TierRejected)).Add(float64(res.Rejected))
	metrics.SkippedVessels.Add(float64(det.Stats.SkippedVessels))
	for _, skipErr := range det.Skipped {
		logging.Ctx(ctx).Debug().Err(skipErr).Msg("skipped")
	}

	fresh, suppressed, err := r.dedup.Filter(ctx, det.Confirmed)
	if err != nil {
		return res, err
	}
	res.Fresh = len(fresh)
	res.Suppressed = len(suppressed)
	metrics.AlertsSuppressed.Add(float64(len(suppressed)))
	if len(fresh) == 0 {
		return res, nil
	}

	r.setState(StateAlerting)
	rec, err := r.dedup.Record(ctx, fresh, RecordParams{WindowStart: begin, WindowEnd: end, Detection: r.cfg.Detection})
	if err != nil {
		return res, err
	}
	metrics.AlertRecords.Inc()
	res.RecordID = rec.ID

	if err := r.deliver(ctx, rec.ID, fresh); err != nil {
		return res, err
	}
	res.Delivered = true
	return res, nil
}

// deliver notifies and stores the outcome. The record already exists, so a
// failure leaves it pending without touching its fingerprints.
func (r *Runner) deliver(ctx context.Context, id string, verdicts []Verdict) error {
	notifyErr := r.notifier.Notify(ctx, verdicts)
	if notifyErr != nil && !errors.Is(notifyErr, ErrNotificationFailure) {
		notifyErr = fmt.Errorf("%w: %v", ErrNotificationFailure, notifyErr)
	}
	if err := r.alerts.MarkDelivery(ctx, id, notifyErr); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("record", id).Msg("mark delivery")
	}
	if notifyErr != nil {
		return fmt.Errorf("record %s: %w", id, notifyErr)
	}
	return nil
}

func (r *Runner) resendPending(ctx context.Context) (int, error) {
	pending, err := r.alerts.Pending(ctx, r.cfg.MaxDeliveryAttempts)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return len(pending), err
		}
		verdicts, err := rec.Verdicts()
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
			continue
		}
		if err := r.deliver(ctx, rec.ID, verdicts); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("record", rec.ID).Int("attempts", rec.Attempts+1).Msg("resend failed")
			continue
		}
		logging.Ctx(ctx).Info().Str("record", rec.ID).Int("verdicts", len(verdicts)).Msg("resend ok")
	}
	return len(pending), errors.Join(errs...)
}

// Run ticks immediately and then every Interval until ctx is cancelled.
// Cancellation is observed between ticks; a running tick completes.
func (r *Runner) Run(ctx context.Context) error {
	tickCtx := context.WithoutCancel(ctx)
	_, _ = r.RunOnce(tickCtx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, _ = r.RunOnce(tickCtx)
		}
	}
}

// Serve lets the runner run under a suture supervisor.
func (r *Runner) Serve(ctx context.Context) error {
	return r.Run(ctx)
}

func (r *Runner) String() string { return "transhipment-monitor" }
