package watch

import (
	"fmt"
	"time"
)

// Tier is the classification outcome, by decreasing confidence.
type Tier string

const (
	TierConfirmed Tier = "confirmed"
	TierCandidate Tier = "candidate"
	TierRejected  Tier = "rejected"
)

// Reasons attached to rejected verdicts.
const (
	ReasonPort     = "port"
	ReasonSpeed    = "speed"
	ReasonDuration = "duration"
)

// Verdict is the immutable classification of one closed session.
type Verdict struct {
	Tier          Tier      `json:"tier"`
	Reason        string    `json:"reason,omitempty"`
	VesselA       int64     `json:"vessel_a"`
	VesselB       int64     `json:"vessel_b"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DurationMin   int       `json:"duration_min"`
	Latitude      float64   `json:"lat"`
	Longitude     float64   `json:"lon"`
	MeanSOGA      float64   `json:"mean_sog_a"`
	MeanSOGB      float64   `json:"mean_sog_b"`
	MinDistanceKm float64   `json:"min_distance_km"`
	Samples       int       `json:"samples"`
	NearestPort   string    `json:"nearest_port,omitempty"`
	PortKm        float64   `json:"nearest_port_km,omitempty"`
	Priority      Priority  `json:"priority"`
	Fingerprint   string    `json:"fingerprint"`
}

// Key returns the verdict's pair key.
func (v Verdict) Key() PairKey {
	return NewPairKey(v.VesselA, v.VesselB)
}

// Classify evaluates a closed session. Rules are applied in order and the
// first match wins: port proximity, then speed, then duration.
func Classify(s Session, cfg DetectionConfig) (Verdict, error) {
	if len(s.Samples) == 0 {
		return Verdict{}, fmt.Errorf("session %s: no samples", s.Key)
	}
	if s.End.Before(s.Start) {
		return Verdict{}, fmt.Errorf("session %s: end %s before start %s", s.Key, s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}

	var sumLat, sumLon, sumA, sumB float64
	minDist := s.Samples[0].DistanceKm
	for _, smp := range s.Samples {
		sumLat += (smp.A.Latitude + smp.B.Latitude) / 2
		sumLon += (smp.A.Longitude + smp.B.Longitude) / 2
		sumA += smp.A.SpeedOverGround
		sumB += smp.B.SpeedOverGround
		if smp.DistanceKm < minDist {
			minDist = smp.DistanceKm
		}
	}
	n := float64(len(s.Samples))
	durationMin := int(s.Duration() / time.Minute)

	v := Verdict{
		VesselA:       s.Key.A,
		VesselB:       s.Key.B,
		Start:         s.Start,
		End:           s.End,
		DurationMin:   durationMin,
		Latitude:      sumLat / n,
		Longitude:     sumLon / n,
		MeanSOGA:      sumA / n,
		MeanSOGB:      sumB / n,
		MinDistanceKm: minDist,
		Samples:       len(s.Samples),
		Priority:      PriorityFor(durationMin, cfg.HighPriorityDurationMin),
		Fingerprint:   Fingerprint(s.Key, s.Start, cfg.FingerprintBucket, cfg.HashHexLen),
	}

	if port, km, ok := nearestPort(v.Latitude, v.Longitude, cfg.Ports); ok {
		v.NearestPort = port.Name
		v.PortKm = km
		if km < cfg.PortDistanceKm {
			v.Tier, v.Reason = TierRejected, ReasonPort
			return v, nil
		}
	}

	if v.MeanSOGA > cfg.SOGThreshold || v.MeanSOGB > cfg.SOGThreshold {
		v.Tier, v.Reason = TierRejected, ReasonSpeed
		return v, nil
	}

	switch {
	case durationMin >= cfg.DurationMin:
		v.Tier = TierConfirmed
	case durationMin >= cfg.CandidateDurationMin:
		v.Tier = TierCandidate
	default:
		v.Tier, v.Reason = TierRejected, ReasonDuration
	}
	return v, nil
}
