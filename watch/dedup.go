package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// DefaultCooldown suppresses re-alerts for the same encounter for a day.
const DefaultCooldown = 24 * time.Hour

// AlertStore keeps alert history for deduplication.
type AlertStore interface {
	FindRecent(ctx context.Context, fingerprint string, since time.Time) (*AlertRecord, error)
	FindContinuing(ctx context.Context, pair string, since, notBefore time.Time) (*AlertFingerprint, error)
	ExtendEncounter(ctx context.Context, pair string, since, end time.Time) error
	Insert(ctx context.Context, rec *AlertRecord, encounters []AlertFingerprint) error
}

// Deduplicator maps confirmed verdicts onto alert history.
type Deduplicator struct {
	store    AlertStore
	cooldown time.Duration
	gap      time.Duration
	now      func() time.Time
}

// NewDeduplicator suppresses verdicts announced within cooldown. gap is the
// session merge tolerance: an encounter of the same pair that was last seen
// no more than gap before a verdict starts is the same encounter.
func NewDeduplicator(store AlertStore, cooldown, gap time.Duration) *Deduplicator {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if gap < 0 {
		gap = 0
	}
	return &Deduplicator{store: store, cooldown: cooldown, gap: gap, now: time.Now}
}

// Filter splits verdicts into fresh ones and ones already announced within
// the cool-down. A verdict is already announced when its fingerprint is
// known, or when the same pair was announced and last seen within the gap
// before the verdict starts. The second rule covers windows that only see
// the tail of a long encounter, whose start then moves with every tick.
// Duplicate fingerprints inside one batch count once.
func (d *Deduplicator) Filter(ctx context.Context, verdicts []Verdict) (fresh, suppressed []Verdict, err error) {
	since := d.now().UTC().Add(-d.cooldown)
	seen := make(map[string]struct{}, len(verdicts))
	for _, v := range verdicts {
		if v.Fingerprint == "" {
			return nil, nil, fmt.Errorf("verdict %s has no fingerprint", v.Key())
		}
		if _, dup := seen[v.Fingerprint]; dup {
			suppressed = append(suppressed, v)
			continue
		}
		seen[v.Fingerprint] = struct{}{}

		known, err := d.announced(ctx, v, since)
		if err != nil {
			return nil, nil, err
		}
		if !known {
			fresh = append(fresh, v)
			continue
		}
		if err := d.store.ExtendEncounter(ctx, v.Key().String(), since, v.End); err != nil {
			return nil, nil, fmt.Errorf("extend encounter %s: %w", v.Key(), err)
		}
		suppressed = append(suppressed, v)
	}
	return fresh, suppressed, nil
}

func (d *Deduplicator) announced(ctx context.Context, v Verdict, since time.Time) (bool, error) {
	rec, err := d.store.FindRecent(ctx, v.Fingerprint, since)
	if err != nil {
		return false, fmt.Errorf("lookup fingerprint %s: %w", v.Fingerprint, err)
	}
	if rec != nil {
		return true, nil
	}
	prev, err := d.store.FindContinuing(ctx, v.Key().String(), since, v.Start.Add(-d.gap))
	if err != nil {
		return false, fmt.Errorf("lookup encounter %s: %w", v.Key(), err)
	}
	return prev != nil, nil
}

// RecordParams describes the run that produced a record.
type RecordParams struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Detection   DetectionConfig
}

// Record persists fresh as one undelivered AlertRecord together with one
// encounter row per verdict. It must run before the notifier is invoked.
func (d *Deduplicator) Record(ctx context.Context, fresh []Verdict, params RecordParams) (*AlertRecord, error) {
	if len(fresh) == 0 {
		return nil, nil
	}
	verdictsJSON, err := json.Marshal(fresh)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(params.Detection)
	if err != nil {
		return nil, err
	}

	high := 0
	encounters := make([]AlertFingerprint, 0, len(fresh))
	for _, v := range fresh {
		encounters = append(encounters, AlertFingerprint{
			Fingerprint: v.Fingerprint,
			PairKey:     v.Key().String(),
			Start:       v.Start,
			End:         v.End,
		})
		if v.Priority == PriorityHigh {
			high++
		}
	}

	rec := &AlertRecord{
		ID:           uuid.New().String(),
		SentAt:       d.now().UTC(),
		WindowStart:  params.WindowStart.UTC(),
		WindowEnd:    params.WindowEnd.UTC(),
		VerdictCount: len(fresh),
		HighPriority: high,
		VerdictsJSON: string(verdictsJSON),
		ParamsJSON:   string(paramsJSON),
	}
	if err := d.store.Insert(ctx, rec, encounters); err != nil {
		return nil, fmt.Errorf("insert alert record: %w", err)
	}
	return rec, nil
}
