package events

import (
	"errors"
	"strconv"
	"strings"

	"github.com/technosupport/ts-anpr/internal/camera"
)

var (
	ErrBadTimestamp = errors.New("unparseable event timestamp")
	ErrNoPlate      = errors.New("missing plate number")
	ErrNoImage      = errors.New("missing capture image")
)

// Candidate field names per attribute, in precedence order. Firmware and
// IVS configuration move these around between releases; the first
// present non-empty value wins.
var (
	directionFields    = []string{"DrivingDirection", "Direction", "VehicleDirection"}
	vehicleTypeFields  = []string{"VehicleType", "ObjectType", "CarType"}
	vehicleColorFields = []string{"VehicleColor", "CarColor"}
	plateColorFields   = []string{"PlateColor"}
	laneFields         = []string{"Lane", "LaneNo"}
	speedFields        = []string{"VehicleSpeed", "Speed"}
	accessFields       = []string{"AccessStatus", "OpenStrobe"}
)

// Normalizer turns one raw device payload into one canonical record.
// Pure and synchronous: no I/O beyond the already-delivered fields.
type Normalizer struct {
	eventType string
}

func NewNormalizer() *Normalizer {
	return &Normalizer{eventType: "TrafficJunction"}
}

// Normalize returns exactly one NormalizedEvent or a declared failure.
// A malformed timestamp fails closed: a corrupted payload must not be
// silently stamped with "now".
func (n *Normalizer) Normalize(cameraID string, raw camera.RawEvent) (NormalizedEvent, error) {
	plate := strings.TrimSpace(raw.Plate)
	if plate == "" {
		return NormalizedEvent{}, ErrNoPlate
	}
	if len(raw.Image) == 0 {
		return NormalizedEvent{}, ErrNoImage
	}

	ts := camera.ParseDeviceTime(raw.Timestamp)
	if ts.IsZero() {
		return NormalizedEvent{}, ErrBadTimestamp
	}

	return NormalizedEvent{
		CameraID:         cameraID,
		Timestamp:        ts,
		PlateNumber:      plate,
		EventType:        n.eventType,
		VehicleType:      firstField(raw.Fields, vehicleTypeFields),
		VehicleColor:     firstField(raw.Fields, vehicleColorFields),
		PlateColor:       firstField(raw.Fields, plateColorFields),
		DrivingDirection: firstField(raw.Fields, directionFields),
		VehicleSpeed:     firstIntField(raw.Fields, speedFields),
		Lane:             firstField(raw.Fields, laneFields),
		AccessStatus:     firstField(raw.Fields, accessFields),
	}, nil
}

// firstField resolves an attribute through its ordered candidate list.
func firstField(fields map[string]string, candidates []string) string {
	for _, k := range candidates {
		if v, ok := fields[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return Unknown
}

func firstIntField(fields map[string]string, candidates []string) int {
	for _, k := range candidates {
		if v, ok := fields[k]; ok {
			if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return i
			}
		}
	}
	return 0
}
