package stats

import (
	"time"

	"github.com/nixlim/drowsewatch/internal/protocol"
)

// Default per-alert durations in seconds.
const (
	DefaultPerAlertSeconds     = 0.05
	DefaultDisplayAlertSeconds = 1.0
)

// Config holds the per-alert constants. PerAlertSeconds feeds the safety
// calculation; DisplayAlertSeconds is only for the "drowsy time" shown
// next to the alert count and never feeds back into SafeTime.
type Config struct {
	PerAlertSeconds     float64
	DisplayAlertSeconds float64
}

// DefaultConfig returns the default constants.
func DefaultConfig() Config {
	return Config{
		PerAlertSeconds:     DefaultPerAlertSeconds,
		DisplayAlertSeconds: DefaultDisplayAlertSeconds,
	}
}

// TotalSource names which rule produced TotalTime.
type TotalSource string

const (
	SourceRuntime  TotalSource = "runtime"
	SourceServer   TotalSource = "session_time"
	SourceSessions TotalSource = "sessions"
)

// Input is everything Compute reads.
type Input struct {
	Stats    protocol.AggregateStats
	Sessions []protocol.SessionRecord
	Period   protocol.Period

	// Active reports whether the client's session is Active.
	Active bool

	// Runtime is the interpolated runtime in seconds.
	Runtime float64

	Now time.Time
}

// Derived holds the metrics presentation code reads.
type Derived struct {
	TotalTime      float64
	DrowsyTime     float64
	SafeTime       float64
	SafePercentage int
	AlertCount     int

	// DisplayDrowsyTime is AlertCount x DisplayAlertSeconds.
	DisplayDrowsyTime float64

	Source     TotalSource
	ComputedAt time.Time
}
