package optracker

import "time"

// Settings supplies the tracker's tunables.
//
// Values are read at call time and may change between calls; the tracker
// never caches them. internal/config provides a reloadable implementation.
type Settings interface {
	// HistorySize is the maximum number of retired ops kept in history.
	HistorySize() int
	// HistoryDuration is the maximum age of a retained op.
	HistoryDuration() time.Duration
	// ComplaintTime is the in-flight age after which an op counts as slow.
	ComplaintTime() time.Duration
	// LogThreshold is the maximum number of warnings per CheckSlow call.
	LogThreshold() int
}

// StaticSettings is a fixed Settings value.
type StaticSettings struct {
	Size      int
	Duration  time.Duration
	Complaint time.Duration
	Threshold int
}

// DefaultSettings returns the stock tunables.
func DefaultSettings() StaticSettings {
	return StaticSettings{
		Size:      20,
		Duration:  600 * time.Second,
		Complaint: 30 * time.Second,
		Threshold: 5,
	}
}

func (s StaticSettings) HistorySize() int               { return s.Size }
func (s StaticSettings) HistoryDuration() time.Duration { return s.Duration }
func (s StaticSettings) ComplaintTime() time.Duration   { return s.Complaint }
func (s StaticSettings) LogThreshold() int              { return s.Threshold }

// Clock supplies wall time to the tracker.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
