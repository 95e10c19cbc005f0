package wftool

import "time"

// nowFunc is overridable in tests that need deterministic durations.
var nowFunc = time.Now

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
