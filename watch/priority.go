package watch

import "strings"

// Priority grades a confirmed encounter for the people reading alerts.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// DefaultHighPriorityDurationMin marks encounters of 45 minutes or more.
const DefaultHighPriorityDurationMin = 45

// PriorityFor maps an encounter duration to a priority. A zero threshold
// disables the high grade.
func PriorityFor(durationMin, highThresholdMin int) Priority {
	if highThresholdMin > 0 && durationMin >= highThresholdMin {
		return PriorityHigh
	}
	return PriorityNormal
}

// ParsePriority accepts the common spellings used in alert routing:
// - high/urgent/critical -> high
// - anything else -> normal
func ParsePriority(v string) Priority {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "high", "urgent", "critical":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}
