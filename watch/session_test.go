package watch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proximate(key PairKey, minutes ...int) []BucketPairs {
	out := make([]BucketPairs, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, BucketPairs{
			Time: minute(m),
			Pairs: []Proximity{{
				Key: key,
				A:   Position{VesselID: key.A, Latitude: offshoreLat, Longitude: offshoreLon},
				B:   Position{VesselID: key.B, Latitude: offshoreLat + pairOffsetDeg, Longitude: offshoreLon},
			}},
		})
	}
	return out
}

func rangeMinutes(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestMergeSessions_GapWithinToleranceKeepsOneSession(t *testing.T) {
	key := NewPairKey(1, 2)
	minutes := append(rangeMinutes(0, 10), rangeMinutes(19, 30)...)

	sessions := MergeSessions(proximate(key, minutes...), 10*time.Minute)
	require.Len(t, sessions, 1)
	assert.Equal(t, minute(0), sessions[0].Start)
	assert.Equal(t, minute(30), sessions[0].End)
	assert.Len(t, sessions[0].Samples, len(minutes))
	assert.Equal(t, SessionClosed, sessions[0].Status)
}

func TestMergeSessions_GapBeyondToleranceSplits(t *testing.T) {
	key := NewPairKey(1, 2)
	minutes := append(rangeMinutes(0, 10), rangeMinutes(21, 30)...)

	sessions := MergeSessions(proximate(key, minutes...), 10*time.Minute)
	require.Len(t, sessions, 2)
	assert.Equal(t, minute(0), sessions[0].Start)
	assert.Equal(t, minute(10), sessions[0].End)
	assert.Equal(t, minute(21), sessions[1].Start)
	assert.Equal(t, minute(30), sessions[1].End)
}

func TestMergeSessions_ClosesOnAbsentBuckets(t *testing.T) {
	key := NewPairKey(1, 2)
	other := NewPairKey(3, 4)
	buckets := proximate(key, 0, 1, 2)
	// Only the other pair is seen afterwards; the first must close at minute 2.
	buckets = append(buckets, proximate(other, rangeMinutes(3, 20)...)...)

	sessions := MergeSessions(buckets, 10*time.Minute)
	require.Len(t, sessions, 2)
	assert.Equal(t, key, sessions[0].Key)
	assert.Equal(t, minute(2), sessions[0].End)
	assert.Equal(t, other, sessions[1].Key)
	assert.Equal(t, minute(20), sessions[1].End)
}

func TestMergeSessions_OrderedAndWellFormed(t *testing.T) {
	a, b := NewPairKey(5, 9), NewPairKey(1, 2)
	var buckets []BucketPairs
	for _, m := range rangeMinutes(0, 40) {
		bp := BucketPairs{Time: minute(m)}
		bp.Pairs = append(bp.Pairs, Proximity{Key: b})
		if m%3 != 0 {
			bp.Pairs = append(bp.Pairs, Proximity{Key: a})
		}
		buckets = append(buckets, bp)
	}

	sessions := MergeSessions(buckets, 0)
	require.NotEmpty(t, sessions)
	for i, s := range sessions {
		assert.False(t, s.End.Before(s.Start), "session %d ends before it starts", i)
		if i > 0 {
			prev := sessions[i-1]
			assert.False(t, s.Start.Before(prev.Start), "sessions out of order")
			if prev.Key == s.Key {
				assert.True(t, s.Start.After(prev.End), "sessions for %s overlap", s.Key)
			}
		}
	}
}

func TestMergeSessions_Empty(t *testing.T) {
	assert.Empty(t, MergeSessions(nil, time.Minute))
}
