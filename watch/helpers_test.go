package watch

import (
	"time"
)

// Open water in the Sunda Strait, well clear of every default port.
const (
	offshoreLat = -6.2
	offshoreLon = 105.5
)

// ~100 m of latitude.
const pairOffsetDeg = 0.0009

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func testConfig() DetectionConfig {
	cfg := DefaultDetectionConfig()
	cfg.CandidateDurationMin = 20
	return cfg
}

func minute(i int) time.Time {
	return t0.Add(time.Duration(i) * time.Minute)
}

// encounter returns one report per minute for both vessels over minutes
// [from, to], a ~100 m apart at (lat, lon).
func encounter(a, b int64, from, to int, sog, lat, lon float64) []Signal {
	var out []Signal
	for i := from; i <= to; i++ {
		at := minute(i).Add(10 * time.Second)
		out = append(out,
			Signal{VesselID: a, Latitude: lat, Longitude: lon, SpeedOverGround: sog, Timestamp: at},
			Signal{VesselID: b, Latitude: lat + pairOffsetDeg, Longitude: lon, SpeedOverGround: sog, Timestamp: at},
		)
	}
	return out
}

// apart returns reports for both vessels ~5 km from each other.
func apart(a, b int64, from, to int, lat, lon float64) []Signal {
	var out []Signal
	for i := from; i <= to; i++ {
		at := minute(i).Add(10 * time.Second)
		out = append(out,
			Signal{VesselID: a, Latitude: lat, Longitude: lon, SpeedOverGround: 0.1, Timestamp: at},
			Signal{VesselID: b, Latitude: lat + 0.045, Longitude: lon, SpeedOverGround: 0.1, Timestamp: at},
		)
	}
	return out
}

func reversed[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
