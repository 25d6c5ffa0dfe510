package watch

import "errors"

var (
	// ErrDataUnavailable means the signal source could not be reached or
	// returned nothing for the requested window. Retried on the next tick.
	ErrDataUnavailable = errors.New("signal data unavailable")

	// ErrInsufficientTrackData marks a vessel with fewer than two resampled
	// points. The vessel is skipped; the run continues.
	ErrInsufficientTrackData = errors.New("insufficient track data")

	// ErrConfiguration is returned for invalid or missing thresholds.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNotificationFailure wraps any delivery failure. The alert record is
	// kept with delivered=false and retried later.
	ErrNotificationFailure = errors.New("notification failed")
)
