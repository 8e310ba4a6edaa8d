// Package store defines the persistence contract for readings and the
// sensor registry, with SQLite, Postgres/TimescaleDB and in-memory backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ugsoil/soilserver/internal/model"
)

// ErrNotFound is returned by entity lookups that match nothing. Range and
// radius queries never return it; an empty result is a valid result.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract the aggregation core depends on.
// All reading queries return readings ordered by timestamp ascending with
// insertion order as the tie-break, so results are deterministic even when
// readings arrive late, duplicated or out of order.
type Store interface {
	// InsertReading appends one reading and assigns its ID.
	InsertReading(ctx context.Context, r *model.Reading) error

	// InsertReadings appends a batch of readings.
	InsertReadings(ctx context.Context, rs []model.Reading) error

	// ReadingsSince returns all readings for sensorID with timestamp >= since.
	ReadingsSince(ctx context.Context, sensorID string, since time.Time) ([]model.Reading, error)

	// ReadingsInRange returns all readings for sensorID with
	// since <= timestamp <= until.
	ReadingsInRange(ctx context.Context, sensorID string, since, until time.Time) ([]model.Reading, error)

	// LatestReading returns the most recent reading for sensorID by
	// timestamp, ties broken by insertion order. It returns (nil, nil)
	// when the sensor has no readings.
	LatestReading(ctx context.Context, sensorID string) (*model.Reading, error)

	// ReadingsWithinRadius returns readings whose coordinates lie within
	// radiusMeters of (lng, lat) by great-circle distance.
	ReadingsWithinRadius(ctx context.Context, lng, lat, radiusMeters float64) ([]model.Reading, error)

	// SaveSensor registers a sensor or replaces an existing registration.
	SaveSensor(ctx context.Context, s *model.Sensor) error

	// Sensors lists all registered sensors ordered by sensorId.
	Sensors(ctx context.Context) ([]model.Sensor, error)

	// SensorByID returns one sensor or ErrNotFound.
	SensorByID(ctx context.Context, sensorID string) (*model.Sensor, error)

	// DeleteSensor removes a registration or returns ErrNotFound.
	DeleteSensor(ctx context.Context, sensorID string) error

	Close() error
}
