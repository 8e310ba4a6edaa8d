package store

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/ugsoil/soilserver/internal/geo"
	"github.com/ugsoil/soilserver/internal/model"
)

// SQLiteStore implements Store using SQLite. It is the default backend.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a SQLite store rooted at dbPath.
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{dbPath: dbPath}
}

// Initialize opens the database and creates the schema.
func (s *SQLiteStore) Initialize() error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "create database directory")
	}

	db, err := sql.Open("sqlite3", s.dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	s.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor_id TEXT NOT NULL,
		longitude REAL NOT NULL,
		latitude REAL NOT NULL,
		district TEXT,
		subcounty TEXT,
		village TEXT,
		ph REAL NOT NULL,
		moisture REAL NOT NULL,
		humidity REAL,
		temperature REAL NOT NULL,
		nitrogen REAL,
		phosphorus REAL,
		potassium REAL,
		electrical_conductivity REAL,
		organic_matter REAL,
		timestamp DATETIME NOT NULL,
		received_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_readings_time ON readings(timestamp);
	CREATE INDEX IF NOT EXISTS idx_readings_coords ON readings(longitude, latitude);

	CREATE TABLE IF NOT EXISTS sensors (
		sensor_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT,
		longitude REAL NOT NULL DEFAULT 0,
		latitude REAL NOT NULL DEFAULT 0,
		district TEXT,
		subcounty TEXT,
		village TEXT,
		installed_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "create schema")
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return errors.Wrap(err, "set pragma")
		}
	}

	return nil
}

const readingColumns = `sensor_id, longitude, latitude, district, subcounty, village,
	ph, moisture, humidity, temperature, nitrogen, phosphorus, potassium,
	electrical_conductivity, organic_matter, timestamp, received_at`

// InsertReading appends one reading and assigns its row ID.
func (s *SQLiteStore) InsertReading(ctx context.Context, r *model.Reading) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insertArgs(r)...,
	)
	if err != nil {
		return errors.Wrap(err, "insert reading")
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// InsertReadings appends a batch in one transaction.
func (s *SQLiteStore) InsertReadings(ctx context.Context, rs []model.Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for i := range rs {
		res, err := stmt.ExecContext(ctx, insertArgs(&rs[i])...)
		if err != nil {
			return errors.Wrap(err, "insert reading")
		}
		rs[i].ID, _ = res.LastInsertId()
	}

	return errors.Wrap(tx.Commit(), "commit transaction")
}

func insertArgs(r *model.Reading) []interface{} {
	return []interface{}{
		r.SensorID, r.Location.Longitude(), r.Location.Latitude(),
		r.Location.District, r.Location.Subcounty, r.Location.Village,
		r.Soil.PH, r.Soil.Moisture, nullable(r.Soil.Humidity), r.Soil.Temperature,
		nullable(r.Soil.Nitrogen), nullable(r.Soil.Phosphorus), nullable(r.Soil.Potassium),
		nullable(r.Soil.ElectricalConductivity), nullable(r.Soil.OrganicMatter),
		r.Timestamp.UTC(), r.ReceivedAt.UTC(),
	}
}

// ReadingsSince returns readings for sensorID with timestamp >= since.
func (s *SQLiteStore) ReadingsSince(ctx context.Context, sensorID string, since time.Time) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+readingColumns+`
		FROM readings
		WHERE sensor_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC`,
		sensorID, since.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings since")
	}
	defer rows.Close()

	return scanReadings(rows)
}

// ReadingsInRange returns readings for sensorID in [since, until].
func (s *SQLiteStore) ReadingsInRange(ctx context.Context, sensorID string, since, until time.Time) ([]model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+readingColumns+`
		FROM readings
		WHERE sensor_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`,
		sensorID, since.UTC(), until.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings in range")
	}
	defer rows.Close()

	return scanReadings(rows)
}

// LatestReading returns the newest reading for sensorID, or nil.
func (s *SQLiteStore) LatestReading(ctx context.Context, sensorID string) (*model.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+readingColumns+`
		FROM readings
		WHERE sensor_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`,
		sensorID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query latest reading")
	}
	defer rows.Close()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

// ReadingsWithinRadius prefilters candidates with a bounding box in SQL,
// then applies the exact great-circle distance in Go. SQLite has no native
// geospatial functions, so the precise cut happens client-side.
func (s *SQLiteStore) ReadingsWithinRadius(ctx context.Context, lng, lat, radiusMeters float64) ([]model.Reading, error) {
	minLng, minLat, maxLng, maxLat := boundingBox(lng, lat, radiusMeters)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, `+readingColumns+`
		FROM readings
		WHERE longitude BETWEEN ? AND ? AND latitude BETWEEN ? AND ?
		ORDER BY timestamp ASC, id ASC`,
		minLng, maxLng, minLat, maxLat,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings by bounding box")
	}
	defer rows.Close()

	candidates, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}

	out := make([]model.Reading, 0, len(candidates))
	for _, r := range candidates {
		if geo.Distance(lng, lat, r.Location.Longitude(), r.Location.Latitude()) <= radiusMeters {
			out = append(out, r)
		}
	}
	return out, nil
}

// boundingBox returns a lng/lat box guaranteed to contain the radius circle.
// Near the poles the longitude span degenerates, so it falls back to the
// full range there.
func boundingBox(lng, lat, radiusMeters float64) (minLng, minLat, maxLng, maxLat float64) {
	const metersPerDegreeLat = 111320
	dLat := radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-6 {
		dLng = radiusMeters / (metersPerDegreeLat * cosLat)
	}
	return lng - dLng, lat - dLat, lng + dLng, lat + dLat
}

func scanReadings(rows *sql.Rows) ([]model.Reading, error) {
	readings := make([]model.Reading, 0)
	for rows.Next() {
		var r model.Reading
		var humidity, nitrogen, phosphorus, potassium, ec, om sql.NullFloat64
		var district, subcounty, village sql.NullString
		var lng, lat float64
		err := rows.Scan(
			&r.ID, &r.SensorID, &lng, &lat, &district, &subcounty, &village,
			&r.Soil.PH, &r.Soil.Moisture, &humidity, &r.Soil.Temperature,
			&nitrogen, &phosphorus, &potassium, &ec, &om,
			&r.Timestamp, &r.ReceivedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan reading")
		}
		r.Location = model.Location{
			Coordinates: [2]float64{lng, lat},
			District:    district.String,
			Subcounty:   subcounty.String,
			Village:     village.String,
		}
		r.Soil.Humidity = floatPtr(humidity)
		r.Soil.Nitrogen = floatPtr(nitrogen)
		r.Soil.Phosphorus = floatPtr(phosphorus)
		r.Soil.Potassium = floatPtr(potassium)
		r.Soil.ElectricalConductivity = floatPtr(ec)
		r.Soil.OrganicMatter = floatPtr(om)
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate readings")
	}
	return readings, nil
}

// SaveSensor registers or replaces a sensor.
func (s *SQLiteStore) SaveSensor(ctx context.Context, sn *model.Sensor) error {
	status := sn.Status
	if status == "" {
		status = model.SensorActive
	}
	installed := sn.InstalledAt
	if installed.IsZero() {
		installed = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sensors
			(sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sn.SensorID, sn.Name, sn.Type,
		sn.Location.Longitude(), sn.Location.Latitude(),
		sn.Location.District, sn.Location.Subcounty, sn.Location.Village,
		installed.UTC(), status,
	)
	return errors.Wrap(err, "save sensor")
}

// Sensors lists registered sensors ordered by sensorId.
func (s *SQLiteStore) Sensors(ctx context.Context) ([]model.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status
		FROM sensors
		ORDER BY sensor_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query sensors")
	}
	defer rows.Close()

	sensors := make([]model.Sensor, 0)
	for rows.Next() {
		sn, err := scanSensor(rows)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, *sn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate sensors")
	}
	return sensors, nil
}

// SensorByID returns one sensor or ErrNotFound.
func (s *SQLiteStore) SensorByID(ctx context.Context, sensorID string) (*model.Sensor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status
		FROM sensors
		WHERE sensor_id = ?`,
		sensorID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query sensor")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "iterate sensor")
		}
		return nil, ErrNotFound
	}
	return scanSensor(rows)
}

func scanSensor(rows *sql.Rows) (*model.Sensor, error) {
	var sn model.Sensor
	var typ, district, subcounty, village sql.NullString
	var lng, lat float64
	err := rows.Scan(
		&sn.SensorID, &sn.Name, &typ, &lng, &lat,
		&district, &subcounty, &village, &sn.InstalledAt, &sn.Status,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan sensor")
	}
	sn.Type = typ.String
	sn.Location = model.Location{
		Coordinates: [2]float64{lng, lat},
		District:    district.String,
		Subcounty:   subcounty.String,
		Village:     village.String,
	}
	return &sn, nil
}

// DeleteSensor removes a registration.
func (s *SQLiteStore) DeleteSensor(ctx context.Context, sensorID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sensors WHERE sensor_id = ?", sensorID)
	if err != nil {
		return errors.Wrap(err, "delete sensor")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullable(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
