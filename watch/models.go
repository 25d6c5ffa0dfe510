package watch

import (
	"time"

	"github.com/goccy/go-json"
)

// SignalRow is the stored form of a Signal.
type SignalRow struct {
	ID        uint      `gorm:"primaryKey"`
	MMSI      int64     `gorm:"column:mmsi;index"`
	Lat       float64   `gorm:"column:lat"`
	Lon       float64   `gorm:"column:lon"`
	SOG       float64   `gorm:"column:sog"`
	Timestamp time.Time `gorm:"column:created_at;index"`
}

func (SignalRow) TableName() string { return "ais_signals" }

func (r SignalRow) signal() Signal {
	return Signal{
		VesselID:        r.MMSI,
		Latitude:        r.Lat,
		Longitude:       r.Lon,
		SpeedOverGround: r.SOG,
		Timestamp:       r.Timestamp.UTC(),
	}
}

// AlertRecord bundles the fresh verdicts of one run. It is written before
// delivery is attempted; Delivered flips once the notifier succeeds.
type AlertRecord struct {
	ID           string    `gorm:"primaryKey;size:36"`
	SentAt       time.Time `gorm:"index"`
	WindowStart  time.Time
	WindowEnd    time.Time
	VerdictCount int
	HighPriority int
	VerdictsJSON string `gorm:"type:text"`
	ParamsJSON   string `gorm:"type:text"`
	Delivered    bool   `gorm:"index"`
	Attempts     int
	LastError    string `gorm:"type:text"`
	DeliveredAt  *time.Time
}

// AlertFingerprint links one announced encounter to its record. Lookups
// within the cool-down go through this table, either by fingerprint or by
// pair key when a later window only sees the tail of the encounter. End is
// moved forward while the encounter keeps being observed.
type AlertFingerprint struct {
	ID          uint      `gorm:"primaryKey"`
	RecordID    string    `gorm:"index;size:36"`
	Fingerprint string    `gorm:"index;size:64"`
	PairKey     string    `gorm:"column:pair_key;index;size:41"`
	Start       time.Time `gorm:"column:start_at"`
	End         time.Time `gorm:"column:end_at"`
	SentAt      time.Time `gorm:"index"`
}

// Verdicts decodes the bundled verdicts.
func (r AlertRecord) Verdicts() ([]Verdict, error) {
	var out []Verdict
	if r.VerdictsJSON == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.VerdictsJSON), &out); err != nil {
		return nil, err
	}
	return out, nil
}
