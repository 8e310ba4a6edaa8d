package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ugsoil/soilserver/internal/geo"
	"github.com/ugsoil/soilserver/internal/model"
)

// MemoryStore keeps everything in process memory. It backs tests and
// broker-less development setups.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []model.Reading
	sensors  map[string]model.Sensor
	nextID   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sensors: make(map[string]model.Sensor),
		nextID:  1,
	}
}

// InsertReading appends one reading.
func (m *MemoryStore) InsertReading(_ context.Context, r *model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID
	m.nextID++
	m.readings = append(m.readings, *r)
	return nil
}

// InsertReadings appends a batch.
func (m *MemoryStore) InsertReadings(_ context.Context, rs []model.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rs {
		rs[i].ID = m.nextID
		m.nextID++
		m.readings = append(m.readings, rs[i])
	}
	return nil
}

// ReadingsSince returns readings for sensorID with timestamp >= since,
// ordered by timestamp then insertion order.
func (m *MemoryStore) ReadingsSince(_ context.Context, sensorID string, since time.Time) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Reading, 0)
	for _, r := range m.readings {
		if r.SensorID == sensorID && !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out, nil
}

// ReadingsInRange returns readings for sensorID in [since, until].
func (m *MemoryStore) ReadingsInRange(_ context.Context, sensorID string, since, until time.Time) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Reading, 0)
	for _, r := range m.readings {
		if r.SensorID == sensorID && !r.Timestamp.Before(since) && !r.Timestamp.After(until) {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out, nil
}

// LatestReading returns the newest reading for sensorID, or nil.
func (m *MemoryStore) LatestReading(_ context.Context, sensorID string) (*model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *model.Reading
	for i := range m.readings {
		r := &m.readings[i]
		if r.SensorID != sensorID {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) ||
			(r.Timestamp.Equal(latest.Timestamp) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// ReadingsWithinRadius returns readings within radiusMeters of (lng, lat).
func (m *MemoryStore) ReadingsWithinRadius(_ context.Context, lng, lat, radiusMeters float64) ([]model.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Reading, 0)
	for _, r := range m.readings {
		d := geo.Distance(lng, lat, r.Location.Longitude(), r.Location.Latitude())
		if d <= radiusMeters {
			out = append(out, r)
		}
	}
	sortReadings(out)
	return out, nil
}

// SaveSensor registers or replaces a sensor.
func (m *MemoryStore) SaveSensor(_ context.Context, s *model.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensors[s.SensorID] = *s
	return nil
}

// Sensors lists registered sensors ordered by sensorId.
func (m *MemoryStore) Sensors(_ context.Context) ([]model.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Sensor, 0, len(m.sensors))
	for _, s := range m.sensors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out, nil
}

// SensorByID returns one sensor or ErrNotFound.
func (m *MemoryStore) SensorByID(_ context.Context, sensorID string) (*model.Sensor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sensors[sensorID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// DeleteSensor removes a registration.
func (m *MemoryStore) DeleteSensor(_ context.Context, sensorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sensors[sensorID]; !ok {
		return ErrNotFound
	}
	delete(m.sensors, sensorID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

func sortReadings(rs []model.Reading) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Timestamp.Equal(rs[j].Timestamp) {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		}
		return rs[i].ID < rs[j].ID
	})
}
