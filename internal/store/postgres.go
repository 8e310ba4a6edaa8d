package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ugsoil/soilserver/internal/geo"
	"github.com/ugsoil/soilserver/internal/model"
)

// PostgresStore implements Store on Postgres, with optional TimescaleDB
// hypertable conversion for the readings table.
type PostgresStore struct {
	pool      *pgxpool.Pool
	timescale bool
}

// NewPostgresStore connects a pool to connString. When timescale is true,
// Initialize converts the readings table into a hypertable.
func NewPostgresStore(ctx context.Context, connString string, timescale bool) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return &PostgresStore{pool: pool, timescale: timescale}, nil
}

// Initialize creates the schema if it does not exist.
func (p *PostgresStore) Initialize(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL,
			sensor_id TEXT NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			district TEXT,
			subcounty TEXT,
			village TEXT,
			ph DOUBLE PRECISION NOT NULL,
			moisture DOUBLE PRECISION NOT NULL,
			humidity DOUBLE PRECISION,
			temperature DOUBLE PRECISION NOT NULL,
			nitrogen DOUBLE PRECISION,
			phosphorus DOUBLE PRECISION,
			potassium DOUBLE PRECISION,
			electrical_conductivity DOUBLE PRECISION,
			organic_matter DOUBLE PRECISION,
			timestamp TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return errors.Wrap(err, "create readings table")
	}

	_, err = p.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_readings_sensor_time ON readings(sensor_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_readings_coords ON readings(longitude, latitude)`)
	if err != nil {
		return errors.Wrap(err, "create readings indexes")
	}

	if p.timescale {
		_, err = p.pool.Exec(ctx,
			`SELECT create_hypertable('readings', 'timestamp', if_not_exists => TRUE)`)
		if err != nil {
			return errors.Wrap(err, "convert readings to hypertable")
		}
	}

	_, err = p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sensors (
			sensor_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT,
			longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			district TEXT,
			subcounty TEXT,
			village TEXT,
			installed_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'active'
		)`)
	return errors.Wrap(err, "create sensors table")
}

const pgReadingColumns = `sensor_id, longitude, latitude, district, subcounty, village,
	ph, moisture, humidity, temperature, nitrogen, phosphorus, potassium,
	electrical_conductivity, organic_matter, timestamp, received_at`

const pgInsertReading = `
	INSERT INTO readings (` + pgReadingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING id`

// InsertReading appends one reading and assigns its row ID.
func (p *PostgresStore) InsertReading(ctx context.Context, r *model.Reading) error {
	err := p.pool.QueryRow(ctx, pgInsertReading, pgInsertArgs(r)...).Scan(&r.ID)
	return errors.Wrap(err, "insert reading")
}

// InsertReadings appends a batch in one transaction.
func (p *PostgresStore) InsertReadings(ctx context.Context, rs []model.Reading) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	for i := range rs {
		if err := tx.QueryRow(ctx, pgInsertReading, pgInsertArgs(&rs[i])...).Scan(&rs[i].ID); err != nil {
			return errors.Wrap(err, "insert reading")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit transaction")
}

func pgInsertArgs(r *model.Reading) []interface{} {
	return []interface{}{
		r.SensorID, r.Location.Longitude(), r.Location.Latitude(),
		r.Location.District, r.Location.Subcounty, r.Location.Village,
		r.Soil.PH, r.Soil.Moisture, r.Soil.Humidity, r.Soil.Temperature,
		r.Soil.Nitrogen, r.Soil.Phosphorus, r.Soil.Potassium,
		r.Soil.ElectricalConductivity, r.Soil.OrganicMatter,
		r.Timestamp.UTC(), r.ReceivedAt.UTC(),
	}
}

// ReadingsSince returns readings for sensorID with timestamp >= since.
func (p *PostgresStore) ReadingsSince(ctx context.Context, sensorID string, since time.Time) ([]model.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, `+pgReadingColumns+`
		FROM readings
		WHERE sensor_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC, id ASC`,
		sensorID, since.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings since")
	}
	return pgScanReadings(rows)
}

// ReadingsInRange returns readings for sensorID in [since, until].
func (p *PostgresStore) ReadingsInRange(ctx context.Context, sensorID string, since, until time.Time) ([]model.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, `+pgReadingColumns+`
		FROM readings
		WHERE sensor_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC, id ASC`,
		sensorID, since.UTC(), until.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings in range")
	}
	return pgScanReadings(rows)
}

// LatestReading returns the newest reading for sensorID, or nil.
func (p *PostgresStore) LatestReading(ctx context.Context, sensorID string) (*model.Reading, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, `+pgReadingColumns+`
		FROM readings
		WHERE sensor_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`,
		sensorID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query latest reading")
	}
	readings, err := pgScanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, nil
	}
	return &readings[0], nil
}

// ReadingsWithinRadius prefilters with a bounding box in SQL and applies the
// exact great-circle cut in Go, same as the SQLite backend.
func (p *PostgresStore) ReadingsWithinRadius(ctx context.Context, lng, lat, radiusMeters float64) ([]model.Reading, error) {
	minLng, minLat, maxLng, maxLat := boundingBox(lng, lat, radiusMeters)

	rows, err := p.pool.Query(ctx, `
		SELECT id, `+pgReadingColumns+`
		FROM readings
		WHERE longitude BETWEEN $1 AND $2 AND latitude BETWEEN $3 AND $4
		ORDER BY timestamp ASC, id ASC`,
		minLng, maxLng, minLat, maxLat,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query readings by bounding box")
	}
	candidates, err := pgScanReadings(rows)
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

func pgScanReadings(rows pgx.Rows) ([]model.Reading, error) {
	defer rows.Close()

	readings := make([]model.Reading, 0)
	for rows.Next() {
		var r model.Reading
		var district, subcounty, village *string
		var lng, lat float64
		err := rows.Scan(
			&r.ID, &r.SensorID, &lng, &lat, &district, &subcounty, &village,
			&r.Soil.PH, &r.Soil.Moisture, &r.Soil.Humidity, &r.Soil.Temperature,
			&r.Soil.Nitrogen, &r.Soil.Phosphorus, &r.Soil.Potassium,
			&r.Soil.ElectricalConductivity, &r.Soil.OrganicMatter,
			&r.Timestamp, &r.ReceivedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan reading")
		}
		r.Location = model.Location{Coordinates: [2]float64{lng, lat}}
		if district != nil {
			r.Location.District = *district
		}
		if subcounty != nil {
			r.Location.Subcounty = *subcounty
		}
		if village != nil {
			r.Location.Village = *village
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate readings")
	}
	return readings, nil
}

// SaveSensor registers or replaces a sensor.
func (p *PostgresStore) SaveSensor(ctx context.Context, sn *model.Sensor) error {
	status := sn.Status
	if status == "" {
		status = model.SensorActive
	}
	installed := sn.InstalledAt
	if installed.IsZero() {
		installed = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sensors
			(sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sensor_id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			longitude = EXCLUDED.longitude,
			latitude = EXCLUDED.latitude,
			district = EXCLUDED.district,
			subcounty = EXCLUDED.subcounty,
			village = EXCLUDED.village,
			status = EXCLUDED.status`,
		sn.SensorID, sn.Name, sn.Type,
		sn.Location.Longitude(), sn.Location.Latitude(),
		sn.Location.District, sn.Location.Subcounty, sn.Location.Village,
		installed.UTC(), status,
	)
	return errors.Wrap(err, "save sensor")
}

// Sensors lists registered sensors ordered by sensorId.
func (p *PostgresStore) Sensors(ctx context.Context) ([]model.Sensor, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status
		FROM sensors
		ORDER BY sensor_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query sensors")
	}
	defer rows.Close()

	sensors := make([]model.Sensor, 0)
	for rows.Next() {
		sn, err := pgScanSensor(rows)
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
func (p *PostgresStore) SensorByID(ctx context.Context, sensorID string) (*model.Sensor, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT sensor_id, name, type, longitude, latitude, district, subcounty, village, installed_at, status
		FROM sensors
		WHERE sensor_id = $1`,
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
	return pgScanSensor(rows)
}

func pgScanSensor(rows pgx.Rows) (*model.Sensor, error) {
	var sn model.Sensor
	var typ, district, subcounty, village *string
	var lng, lat float64
	err := rows.Scan(
		&sn.SensorID, &sn.Name, &typ, &lng, &lat,
		&district, &subcounty, &village, &sn.InstalledAt, &sn.Status,
	)
	if err != nil {
		return nil, errors.Wrap(err, "scan sensor")
	}
	if typ != nil {
		sn.Type = *typ
	}
	sn.Location = model.Location{Coordinates: [2]float64{lng, lat}}
	if district != nil {
		sn.Location.District = *district
	}
	if subcounty != nil {
		sn.Location.Subcounty = *subcounty
	}
	if village != nil {
		sn.Location.Village = *village
	}
	return &sn, nil
}

// DeleteSensor removes a registration.
func (p *PostgresStore) DeleteSensor(ctx context.Context, sensorID string) error {
	res, err := p.pool.Exec(ctx, "DELETE FROM sensors WHERE sensor_id = $1", sensorID)
	if err != nil {
		return errors.Wrap(err, "delete sensor")
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
