package watch

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// PairKey identifies two vessels regardless of order. A is always the
// smaller id.
type PairKey struct {
	A int64 `json:"vessel_a"`
	B int64 `json:"vessel_b"`
}

// NewPairKey canonicalises (x, y) so that (x, y) and (y, x) are equal.
func NewPairKey(x, y int64) PairKey {
	if x > y {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

func (k PairKey) String() string {
	return fmt.Sprintf("%d-%d", k.A, k.B)
}

func (k PairKey) less(o PairKey) bool {
	if k.A != o.A {
		return k.A < o.A
	}
	return k.B < o.B
}

// Position is one vessel's resampled fix inside a bucket.
type Position struct {
	VesselID        int64
	Latitude        float64
	Longitude       float64
	SpeedOverGround float64
}

// Bucket holds every vessel fix that falls on one grid time.
type Bucket struct {
	Time      time.Time
	Positions []Position
}

// Proximity is one pair found within the radius in a bucket. A belongs to
// Key.A and B to Key.B.
type Proximity struct {
	Key        PairKey
	A          Position
	B          Position
	DistanceKm float64
}

// BucketPairs lists the proximate pairs of one bucket, ordered by key.
type BucketPairs struct {
	Time  time.Time
	Pairs []Proximity
}

// Buckets transposes tracks into per-time buckets, ordered by time and then
// vessel id.
func Buckets(tracks []Track) []Bucket {
	byTime := make(map[int64][]Position)
	for _, tr := range tracks {
		for _, p := range tr.Points {
			at := p.Time.UnixNano()
			byTime[at] = append(byTime[at], Position{
				VesselID:        tr.VesselID,
				Latitude:        p.Latitude,
				Longitude:       p.Longitude,
				SpeedOverGround: p.SpeedOverGround,
			})
		}
	}
	times := make([]int64, 0, len(byTime))
	for at := range byTime {
		times = append(times, at)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	out := make([]Bucket, 0, len(times))
	for _, at := range times {
		ps := byTime[at]
		sort.Slice(ps, func(i, j int) bool { return ps[i].VesselID < ps[j].VesselID })
		out = append(out, Bucket{Time: time.Unix(0, at).UTC(), Positions: ps})
	}
	return out
}

// FindPairs returns, for every bucket, the vessel pairs whose great-circle
// distance is at most radiusKm. Buckets are independent, so up to workers of
// them are indexed concurrently; output order follows the input.
func FindPairs(buckets []Bucket, radiusKm float64, workers int) []BucketPairs {
	out := make([]BucketPairs, len(buckets))
	if workers <= 1 {
		for i, b := range buckets {
			out[i] = pairsInBucket(b, radiusKm)
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range buckets {
		g.Go(func() error {
			out[i] = pairsInBucket(buckets[i], radiusKm)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// pairsInBucket indexes the bucket's fixes in a k-d tree over unit-sphere
// coordinates. Chord length is monotonic in arc length, so a chord radius
// query returns exactly the great-circle candidates; each one is then
// confirmed with haversine.
func pairsInBucket(b Bucket, radiusKm float64) BucketPairs {
	res := BucketPairs{Time: b.Time}
	if len(b.Positions) < 2 {
		return res
	}

	pts := make(spherePoints, len(b.Positions))
	for i, p := range b.Positions {
		pts[i] = spherePoint{xyz: unitVector(p.Latitude, p.Longitude), idx: i}
	}
	// kdtree.New reorders its input, so keep the originals for querying.
	queries := make(spherePoints, len(pts))
	copy(queries, pts)
	tree := kdtree.New(pts, false)

	// Slack absorbs float error at the boundary; haversine decides.
	limit := chordSquared(radiusKm) * (1 + 1e-6)
	for _, q := range queries {
		keep := kdtree.NewDistKeeper(limit)
		tree.NearestSet(keep, q)
		for _, c := range keep.Heap {
			if c.Comparable == nil {
				continue
			}
			other := c.Comparable.(spherePoint)
			if other.idx <= q.idx {
				continue
			}
			pa, pb := b.Positions[q.idx], b.Positions[other.idx]
			if pa.VesselID == pb.VesselID {
				continue
			}
			d := haversineKm(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude)
			if d > radiusKm {
				continue
			}
			if pa.VesselID > pb.VesselID {
				pa, pb = pb, pa
			}
			res.Pairs = append(res.Pairs, Proximity{
				Key:        NewPairKey(pa.VesselID, pb.VesselID),
				A:          pa,
				B:          pb,
				DistanceKm: d,
			})
		}
	}
	sort.Slice(res.Pairs, func(i, j int) bool { return res.Pairs[i].Key.less(res.Pairs[j].Key) })
	return res
}

// spherePoint is a fix on the unit sphere. idx points back into the bucket.
type spherePoint struct {
	xyz [3]float64
	idx int
}

func (p spherePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(spherePoint)
	return p.xyz[d] - q.xyz[d]
}

func (p spherePoint) Dims() int { return 3 }

// Distance is the squared Euclidean distance, as the tree expects.
func (p spherePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(spherePoint)
	var sum float64
	for i := range p.xyz {
		d := p.xyz[i] - q.xyz[i]
		sum += d * d
	}
	return sum
}

type spherePoints []spherePoint

func (p spherePoints) Index(i int) kdtree.Comparable { return p[i] }
func (p spherePoints) Len() int                      { return len(p) }
func (p spherePoints) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}
func (p spherePoints) Pivot(d kdtree.Dim) int {
	return spherePlane{spherePoints: p, Dim: d}.Pivot()
}

// spherePlane sorts points along one axis for median partitioning.
type spherePlane struct {
	kdtree.Dim
	spherePoints
}

func (p spherePlane) Less(i, j int) bool {
	return p.spherePoints[i].xyz[p.Dim] < p.spherePoints[j].xyz[p.Dim]
}
func (p spherePlane) Swap(i, j int) {
	p.spherePoints[i], p.spherePoints[j] = p.spherePoints[j], p.spherePoints[i]
}
func (p spherePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p spherePlane) Slice(start, end int) kdtree.SortSlicer {
	p.spherePoints = p.spherePoints[start:end]
	return p
}
