package watch

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairKey_Canonical(t *testing.T) {
	assert.Equal(t, NewPairKey(100, 200), NewPairKey(200, 100))
	assert.Equal(t, "100-200", NewPairKey(200, 100).String())
}

// bruteForcePairs is the O(n²) reference the index must agree with.
func bruteForcePairs(b Bucket, radiusKm float64) []PairKey {
	var out []PairKey
	for i := 0; i < len(b.Positions); i++ {
		for j := i + 1; j < len(b.Positions); j++ {
			pi, pj := b.Positions[i], b.Positions[j]
			if haversineKm(pi.Latitude, pi.Longitude, pj.Latitude, pj.Longitude) <= radiusKm {
				out = append(out, NewPairKey(pi.VesselID, pj.VesselID))
			}
		}
	}
	return out
}

func randomBucket(rng *rand.Rand, at time.Time, n int) Bucket {
	b := Bucket{Time: at}
	for i := 0; i < n; i++ {
		b.Positions = append(b.Positions, Position{
			VesselID:  int64(1000 + i),
			Latitude:  -6.2 + rng.Float64()*0.05,
			Longitude: 105.5 + rng.Float64()*0.05,
		})
	}
	return b
}

func keysOf(bp BucketPairs) []PairKey {
	out := make([]PairKey, 0, len(bp.Pairs))
	for _, p := range bp.Pairs {
		out = append(out, p.Key)
	}
	return out
}

func TestFindPairs_AgreesWithBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var buckets []Bucket
	for i := 0; i < 5; i++ {
		buckets = append(buckets, randomBucket(rng, minute(i), 300))
	}

	got := FindPairs(buckets, 0.5, 1)
	require.Len(t, got, len(buckets))
	total := 0
	for i, b := range buckets {
		want := bruteForcePairs(b, 0.5)
		total += len(want)
		assert.Equal(t, b.Time, got[i].Time)
		if diff := cmp.Diff(want, keysOf(got[i])); diff != "" {
			t.Fatalf("bucket %d pairs mismatch (-want +got):\n%s", i, diff)
		}
	}
	require.Positive(t, total, "fixture should produce some pairs")
}

func TestFindPairs_ParallelMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	var buckets []Bucket
	for i := 0; i < 20; i++ {
		buckets = append(buckets, randomBucket(rng, minute(i), 80))
	}
	seq := FindPairs(buckets, 0.4, 1)
	par := FindPairs(buckets, 0.4, 4)
	if diff := cmp.Diff(seq, par); diff != "" {
		t.Fatalf("parallel result differs (-seq +par):\n%s", diff)
	}
}

func TestFindPairs_OrientsPositionsByKey(t *testing.T) {
	b := Bucket{Time: t0, Positions: []Position{
		{VesselID: 200, Latitude: offshoreLat, Longitude: offshoreLon, SpeedOverGround: 0.3},
		{VesselID: 100, Latitude: offshoreLat + pairOffsetDeg, Longitude: offshoreLon, SpeedOverGround: 0.1},
		{VesselID: 300, Latitude: offshoreLat + 1, Longitude: offshoreLon},
	}}

	got := FindPairs([]Bucket{b}, 0.2, 1)
	require.Len(t, got[0].Pairs, 1)
	p := got[0].Pairs[0]
	assert.Equal(t, PairKey{A: 100, B: 200}, p.Key)
	assert.Equal(t, int64(100), p.A.VesselID)
	assert.Equal(t, int64(200), p.B.VesselID)
	assert.InDelta(t, 0.1, p.DistanceKm, 0.001)
}

func TestBuckets_GroupsByTime(t *testing.T) {
	tracks := []Track{
		{VesselID: 2, Points: []TrackPoint{{Time: minute(0)}, {Time: minute(1)}}},
		{VesselID: 1, Points: []TrackPoint{{Time: minute(1)}, {Time: minute(2)}}},
	}
	got := Buckets(tracks)
	require.Len(t, got, 3)
	assert.Equal(t, minute(0), got[0].Time)
	require.Len(t, got[1].Positions, 2)
	assert.Equal(t, int64(1), got[1].Positions[0].VesselID)
	assert.Equal(t, int64(2), got[1].Positions[1].VesselID)
}
