package events

import "time"

// Unknown is the fallback value for every optional string attribute the
// device did not report. A normalized record is never missing a key,
// only a value.
const Unknown = "Unknown"

// NormalizedEvent is the canonical record produced from exactly one raw
// device payload. Immutable once built; consumed once by the dispatcher.
type NormalizedEvent struct {
	CameraID         string    `json:"CameraID"`
	Timestamp        time.Time `json:"Timestamp"`
	PlateNumber      string    `json:"PlateNumber"`
	EventType        string    `json:"EventType"`
	VehicleType      string    `json:"VehicleType"`
	VehicleColor     string    `json:"VehicleColor"`
	PlateColor       string    `json:"PlateColor"`
	DrivingDirection string    `json:"DrivingDirection"`
	VehicleSpeed     int       `json:"VehicleSpeed"`
	Lane             string    `json:"Lane"`
	AccessStatus     string    `json:"AccessStatus"`
}
