package watch

import (
	"fmt"
	"sort"
	"time"
)

// DefaultCadence is the resampling grid for tracks.
const DefaultCadence = time.Minute

// TrackPoint is one resampled sample. Time is the bucket start.
type TrackPoint struct {
	Time            time.Time
	Latitude        float64
	Longitude       float64
	SpeedOverGround float64
}

// Track is the resampled, time-ordered history of one vessel.
type Track struct {
	VesselID int64
	Points   []TrackPoint
}

// NormalizeStats reports what the normalizer discarded.
type NormalizeStats struct {
	Signals  int
	Invalid  int
	NoFix    int
	Vessels  int
	Skipped  []error
	Accepted int
}

// NormalizeTracks groups signals by vessel and resamples them onto the
// cadence grid, keeping the latest report per bucket. Vessels left with
// fewer than two points are reported in Skipped with ErrInsufficientTrackData.
// Tracks are returned ordered by vessel id.
func NormalizeTracks(signals []Signal, cadence time.Duration) ([]Track, NormalizeStats) {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	stats := NormalizeStats{Signals: len(signals)}

	type bucketKey struct {
		vessel int64
		at     int64
	}
	latest := make(map[bucketKey]Signal, len(signals))
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			stats.Invalid++
			continue
		}
		if !s.hasPosition() {
			stats.NoFix++
			continue
		}
		k := bucketKey{vessel: s.VesselID, at: s.Timestamp.UTC().Truncate(cadence).UnixNano()}
		if cur, ok := latest[k]; !ok || newerSignal(s, cur) {
			latest[k] = s
		}
		stats.Accepted++
	}

	byVessel := make(map[int64][]TrackPoint)
	for k, s := range latest {
		byVessel[k.vessel] = append(byVessel[k.vessel], TrackPoint{
			Time:            time.Unix(0, k.at).UTC(),
			Latitude:        s.Latitude,
			Longitude:       s.Longitude,
			SpeedOverGround: s.SpeedOverGround,
		})
	}

	ids := make([]int64, 0, len(byVessel))
	for id := range byVessel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tracks := make([]Track, 0, len(ids))
	for _, id := range ids {
		points := byVessel[id]
		if len(points) < 2 {
			stats.Skipped = append(stats.Skipped, fmt.Errorf("vessel %d: %d point(s): %w", id, len(points), ErrInsufficientTrackData))
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
		tracks = append(tracks, Track{VesselID: id, Points: points})
	}
	stats.Vessels = len(tracks)
	return tracks, stats
}

// newerSignal decides which of two reports in the same bucket wins. The later
// timestamp wins; exact duplicates fall back to a total order on the
// remaining fields so that input order never changes the result.
func newerSignal(a, b Signal) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.Latitude != b.Latitude {
		return a.Latitude > b.Latitude
	}
	if a.Longitude != b.Longitude {
		return a.Longitude > b.Longitude
	}
	return a.SpeedOverGround > b.SpeedOverGround
}
