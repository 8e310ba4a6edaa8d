package model

import "time"

// Sensor statuses.
const (
	SensorActive      = "active"
	SensorInactive    = "inactive"
	SensorMaintenance = "maintenance"
)

// Sensor is a registered soil probe. SensorID is the identifier readings
// reference; the registry is advisory and the aggregation core trusts
// whatever sensorId a reading carries.
type Sensor struct {
	SensorID    string    `json:"sensorId"`
	Name        string    `json:"name"`
	Type        string    `json:"type,omitempty"`
	Location    Location  `json:"location"`
	InstalledAt time.Time `json:"installedAt"`
	Status      string    `json:"status"`
}

// Validate checks registration input.
func (s *Sensor) Validate() error {
	if s.SensorID == "" {
		return invalid("sensorId", "required")
	}
	if s.Name == "" {
		return invalid("name", "required")
	}
	switch s.Status {
	case "", SensorActive, SensorInactive, SensorMaintenance:
	default:
		return invalid("status", "must be active, inactive or maintenance")
	}
	return nil
}
