package watch

import (
	"context"
	"math"
	"time"

	"transhipment-watch/internal/validation"
)

// Signal is one AIS position report.
type Signal struct {
	VesselID        int64     `json:"vessel_id" validate:"gt=0"`
	Latitude        float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude       float64   `json:"longitude" validate:"gte=-180,lte=180"`
	SpeedOverGround float64   `json:"sog" validate:"gte=0"`
	Timestamp       time.Time `json:"timestamp" validate:"required"`
}

// SignalSource serves raw signals for a time window, in any order.
type SignalSource interface {
	Query(ctx context.Context, start, end time.Time) ([]Signal, error)
}

// missingPositionEpsilon treats (0,0) as "no fix", which is how AIS
// transponders without a position are commonly stored.
const missingPositionEpsilon = 1e-9

func (s Signal) hasPosition() bool {
	return math.Abs(s.Latitude) > missingPositionEpsilon || math.Abs(s.Longitude) > missingPositionEpsilon
}

// Validate checks the ingestion schema.
func (s Signal) Validate() error {
	return validation.Struct(s)
}
