package events

import "time"

// Detection holds a display-ready detection result.
type Detection struct {
	SessionID  string
	IsAlert    bool
	Confidence *float64 // nil if the detector did not report one
	EAR        *float64 // eye aspect ratio, nil if not reported
	Formatted  string   // display-ready string
	Timestamp  time.Time
}
