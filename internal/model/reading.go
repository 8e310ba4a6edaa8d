package model

import (
	"fmt"
	"time"
)

// Location is a GeoJSON-style position with optional administrative tags.
// Coordinates are [longitude, latitude] in degrees.
type Location struct {
	Coordinates [2]float64 `json:"coordinates"`
	District    string     `json:"district,omitempty"`
	Subcounty   string     `json:"subcounty,omitempty"`
	Village     string     `json:"village,omitempty"`
}

// Longitude returns the first coordinate component.
func (l Location) Longitude() float64 { return l.Coordinates[0] }

// Latitude returns the second coordinate component.
func (l Location) Latitude() float64 { return l.Coordinates[1] }

// SoilSample holds one set of probe measurements. PH, Moisture and
// Temperature are mandatory; the remaining fields are reported only by
// probes that carry the extra electrodes, so they are nullable.
type SoilSample struct {
	PH                     float64  `json:"ph"`
	Moisture               float64  `json:"moisture"`
	Humidity               *float64 `json:"humidity,omitempty"`
	Temperature            float64  `json:"temperature"`
	Nitrogen               *float64 `json:"nitrogen,omitempty"`
	Phosphorus             *float64 `json:"phosphorus,omitempty"`
	Potassium              *float64 `json:"potassium,omitempty"`
	ElectricalConductivity *float64 `json:"electricalConductivity,omitempty"`
	OrganicMatter          *float64 `json:"organicMatter,omitempty"`
}

// Reading is a single timestamped soil measurement. Timestamp is the time
// the measurement was taken and is authoritative for bucketing; ReceivedAt
// is when the server accepted it and is informational only. Readings are
// immutable once stored.
type Reading struct {
	// ID is assigned by the store on insert and orders readings with equal
	// timestamps deterministically. It is not part of the wire format.
	ID         int64      `json:"-"`
	SensorID   string     `json:"sensorId"`
	Location   Location   `json:"location"`
	Soil       SoilSample `json:"soil"`
	Timestamp  time.Time  `json:"timestamp"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

// ValidationError reports malformed input rejected before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validate checks required fields and measurement ranges.
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return invalid("sensorId", "required")
	}
	if r.Timestamp.IsZero() {
		return invalid("timestamp", "required")
	}
	return r.Soil.Validate()
}

// Validate enforces the mandatory field ranges: ph in [0,14], moisture in
// [0,100], temperature in [-10,60].
func (s *SoilSample) Validate() error {
	if s.PH < 0 || s.PH > 14 {
		return invalid("soil.ph", "must be between 0 and 14")
	}
	if s.Moisture < 0 || s.Moisture > 100 {
		return invalid("soil.moisture", "must be between 0 and 100")
	}
	if s.Temperature < -10 || s.Temperature > 60 {
		return invalid("soil.temperature", "must be between -10 and 60")
	}
	return nil
}
