package watch

import (
	"context"
	"fmt"
	"time"
)

// DetectionStats summarises one run.
type DetectionStats struct {
	Signals        int `json:"signals"`
	InvalidSignals int `json:"invalid_signals"`
	MissingFix     int `json:"missing_fix"`
	Vessels        int `json:"vessels"`
	SkippedVessels int `json:"skipped_vessels"`
	Buckets        int `json:"buckets"`
	Sessions       int `json:"sessions"`
	FailedSessions int `json:"failed_sessions"`
}

// DetectionResult splits classified sessions by tier. Skipped holds the
// per-vessel and per-pair errors that did not stop the run.
type DetectionResult struct {
	WindowStart time.Time      `json:"window_start"`
	WindowEnd   time.Time      `json:"window_end"`
	Confirmed   []Verdict      `json:"confirmed"`
	Candidate   []Verdict      `json:"candidate"`
	Rejected    []Verdict      `json:"rejected"`
	Stats       DetectionStats `json:"stats"`
	Skipped     []error        `json:"-"`
}

// Detect runs normalisation, pairing, session merging and classification over
// one batch of signals. It has no side effects; identical input yields
// identical output.
func Detect(signals []Signal, cfg DetectionConfig) (DetectionResult, error) {
	if err := cfg.Validate(); err != nil {
		return DetectionResult{}, err
	}
	res := DetectionResult{
		Confirmed: []Verdict{},
		Candidate: []Verdict{},
		Rejected:  []Verdict{},
	}

	tracks, ns := NormalizeTracks(signals, cfg.Cadence)
	res.Stats.Signals = ns.Signals
	res.Stats.InvalidSignals = ns.Invalid
	res.Stats.MissingFix = ns.NoFix
	res.Stats.Vessels = ns.Vessels
	res.Stats.SkippedVessels = len(ns.Skipped)
	res.Skipped = append(res.Skipped, ns.Skipped...)

	buckets := Buckets(tracks)
	res.Stats.Buckets = len(buckets)
	pairs := FindPairs(buckets, cfg.ProximityKm, cfg.Workers)
	sessions := MergeSessions(pairs, cfg.timeGap())
	res.Stats.Sessions = len(sessions)

	for _, s := range sessions {
		v, err := Classify(s, cfg)
		if err != nil {
			res.Stats.FailedSessions++
			res.Skipped = append(res.Skipped, fmt.Errorf("pair %s: %w", s.Key, err))
			continue
		}
		switch v.Tier {
		case TierConfirmed:
			res.Confirmed = append(res.Confirmed, v)
		case TierCandidate:
			res.Candidate = append(res.Candidate, v)
		default:
			res.Rejected = append(res.Rejected, v)
		}
	}
	return res, nil
}

// DetectWindow queries [start, end] from src and runs Detect. Signals outside
// the window are ignored even if the source returns them.
func DetectWindow(ctx context.Context, src SignalSource, start, end time.Time, cfg DetectionConfig) (DetectionResult, error) {
	if end.Before(start) {
		return DetectionResult{}, fmt.Errorf("%w: window end %s before start %s", ErrConfiguration, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if err := cfg.Validate(); err != nil {
		return DetectionResult{}, err
	}
	signals, err := src.Query(ctx, start, end)
	if err != nil {
		return DetectionResult{}, err
	}
	inWindow := make([]Signal, 0, len(signals))
	for _, s := range signals {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		inWindow = append(inWindow, s)
	}
	if len(inWindow) == 0 {
		return DetectionResult{}, fmt.Errorf("%w: no signals between %s and %s", ErrDataUnavailable, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	res, err := Detect(inWindow, cfg)
	if err != nil {
		return DetectionResult{}, err
	}
	res.WindowStart = start.UTC()
	res.WindowEnd = end.UTC()
	return res, nil
}
