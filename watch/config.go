package watch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"transhipment-watch/internal/validation"
)

// DetectionConfig carries every threshold of one detection run. It is passed
// by value so each invocation may use its own parameters.
type DetectionConfig struct {
	ProximityKm             float64       `json:"proximity_km" validate:"gt=0"`
	DurationMin             int           `json:"duration_min" validate:"gt=0"`
	CandidateDurationMin    int           `json:"candidate_duration_min" validate:"gt=0,ltefield=DurationMin"`
	SOGThreshold            float64       `json:"sog_threshold" validate:"gte=0"`
	PortDistanceKm          float64       `json:"port_distance_km" validate:"gte=0"`
	TimeGapMin              int           `json:"time_gap_min" validate:"gte=0"`
	HighPriorityDurationMin int           `json:"high_priority_duration_min" validate:"gte=0"`
	Cadence                 time.Duration `json:"cadence" validate:"gt=0"`
	FingerprintBucket       time.Duration `json:"fingerprint_bucket" validate:"gt=0"`
	HashHexLen              int           `json:"hash_hex_len" validate:"gte=0,lte=64"`
	Workers                 int           `json:"workers" validate:"gte=0"`
	Ports                   []Port        `json:"ports" validate:"dive"`
}

// DefaultDetectionConfig mirrors the thresholds the monitor has always run with.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		ProximityKm:             0.2,
		DurationMin:             30,
		CandidateDurationMin:    22,
		SOGThreshold:            0.5,
		PortDistanceKm:          10,
		TimeGapMin:              10,
		HighPriorityDurationMin: DefaultHighPriorityDurationMin,
		Cadence:                 DefaultCadence,
		FingerprintBucket:       5 * time.Minute,
		HashHexLen:              24,
		Ports:                   DefaultPorts(),
	}
}

// Validate returns an error wrapping ErrConfiguration when a threshold is
// missing or out of range.
func (c DetectionConfig) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

func (c DetectionConfig) timeGap() time.Duration {
	return time.Duration(c.TimeGapMin) * time.Minute
}

// PortList accepts either:
//  1. mapping form (preferred):
//     ports:
//     Merak: {lat: -5.8933, lon: 106.0086}
//     Labuan: [-6.395829, 105.807895]
//  2. list form:
//     ports:
//     - name: Merak
//     lat: -5.8933
//     lon: 106.0086
type PortList struct {
	Items []Port
}

func (l *PortList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.MappingNode:
		items := make([]Port, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			v := value.Content[i+1]
			name := strings.TrimSpace(k.Value)
			if name == "" {
				continue
			}

			// Mapping values are either a [lat, lon] pair or an object.
			switch v.Kind {
			case yaml.SequenceNode:
				var pair []float64
				if err := v.Decode(&pair); err != nil {
					return err
				}
				if len(pair) != 2 {
					return fmt.Errorf("port %q: want [lat, lon], got %d values", name, len(pair))
				}
				items = append(items, Port{Name: name, Latitude: pair[0], Longitude: pair[1]})
			case yaml.MappingNode:
				var tmp struct {
					Lat float64 `yaml:"lat"`
					Lon float64 `yaml:"lon"`
				}
				if err := v.Decode(&tmp); err != nil {
					return err
				}
				items = append(items, Port{Name: name, Latitude: tmp.Lat, Longitude: tmp.Lon})
			default:
				return fmt.Errorf("port %q: unsupported value", name)
			}
		}
		l.Items = items
		return nil
	case yaml.SequenceNode:
		var items []Port
		if err := value.Decode(&items); err != nil {
			return err
		}
		for i := range items {
			items[i].Name = strings.TrimSpace(items[i].Name)
		}
		l.Items = items
		return nil
	default:
		return nil
	}
}

// PortsFile is the on-disk port catalogue.
type PortsFile struct {
	Ports PortList `yaml:"ports"`
}

// LoadPorts reads a port catalogue. Every entry is validated.
func LoadPorts(path string) ([]Port, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f PortsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: ports file %s: %v", ErrConfiguration, path, err)
	}
	for _, p := range f.Ports.Items {
		if err := validation.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: ports file %s: %v", ErrConfiguration, path, err)
		}
	}
	return f.Ports.Items, nil
}
