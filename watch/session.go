package watch

import (
	"sort"
	"time"
)

// SessionStatus is open while an encounter may still be extended.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Sample is one proximate bucket inside a session.
type Sample struct {
	Time       time.Time
	A          Position
	B          Position
	DistanceKm float64
}

// Session is a gap-tolerant encounter between two vessels.
type Session struct {
	Key     PairKey
	Start   time.Time
	End     time.Time
	Samples []Sample
	Status  SessionStatus
}

// Duration returns End-Start.
func (s Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// MergeSessions stitches proximate buckets into encounter sessions. A pair
// keeps its session open across absences of at most gap; a longer silence
// closes it at its last sample and a later approach opens a new one. Every
// session still open after the last bucket is closed. The result is ordered
// by start time and pair key.
func MergeSessions(buckets []BucketPairs, gap time.Duration) []Session {
	open := make(map[PairKey]*Session)
	var closed []Session

	finish := func(s *Session) {
		s.Status = SessionClosed
		closed = append(closed, *s)
		delete(open, s.Key)
	}

	for _, b := range buckets {
		present := make(map[PairKey]struct{}, len(b.Pairs))
		for _, p := range b.Pairs {
			present[p.Key] = struct{}{}
			s, ok := open[p.Key]
			if ok && b.Time.Sub(s.End) > gap {
				finish(s)
				ok = false
			}
			if !ok {
				s = &Session{Key: p.Key, Start: b.Time, End: b.Time, Status: SessionOpen}
				open[p.Key] = s
			}
			s.End = b.Time
			s.Samples = append(s.Samples, Sample{Time: b.Time, A: p.A, B: p.B, DistanceKm: p.DistanceKm})
		}
		for key, s := range open {
			if _, ok := present[key]; ok {
				continue
			}
			if b.Time.Sub(s.End) > gap {
				finish(s)
			}
		}
	}
	for _, s := range open {
		finish(s)
	}

	sort.Slice(closed, func(i, j int) bool {
		if !closed[i].Start.Equal(closed[j].Start) {
			return closed[i].Start.Before(closed[j].Start)
		}
		return closed[i].Key.less(closed[j].Key)
	})
	return closed
}
