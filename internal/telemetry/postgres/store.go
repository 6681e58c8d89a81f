// Package postgres provides a PostgreSQL-backed [telemetry.Store].
//
// Readings live in a single sensor_readings table created by [Migrate],
// which runs on every [NewStore] and is idempotent.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	srv := telemetry.NewServer(store)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chytonpide/chipi/internal/telemetry"
)

var _ telemetry.Store = (*Store)(nil)

// Store persists readings in PostgreSQL. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and migrates the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

const ddlSensorReadings = `
CREATE TABLE IF NOT EXISTS sensor_readings (
    id           TEXT             PRIMARY KEY,
    device_id    TEXT             NOT NULL,
    temperature  DOUBLE PRECISION NOT NULL,
    humidity     DOUBLE PRECISION NOT NULL,
    sent_at      TEXT             NOT NULL DEFAULT '',
    received_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_received_at
    ON sensor_readings (received_at DESC);

CREATE INDEX IF NOT EXISTS idx_sensor_readings_device_received_at
    ON sensor_readings (device_id, received_at DESC);
`

// Migrate creates the sensor_readings table and its indexes if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSensorReadings); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Save implements [telemetry.Store].
func (s *Store) Save(ctx context.Context, r telemetry.Reading) error {
	const q = `
		INSERT INTO sensor_readings (id, device_id, temperature, humidity, sent_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, q, r.ID, r.DeviceID, r.Temperature, r.Humidity, r.Timestamp, r.ReceivedAt); err != nil {
		return fmt.Errorf("postgres store: save reading: %w", err)
	}
	return nil
}

// Recent implements [telemetry.Store].
func (s *Store) Recent(ctx context.Context, q telemetry.Query) ([]telemetry.Reading, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = telemetry.DefaultLimit
	}
	limit = min(limit, telemetry.MaxLimit)

	const sel = `
		SELECT id, device_id, temperature, humidity, sent_at, received_at
		FROM   sensor_readings`

	var (
		rows pgx.Rows
		err  error
	)
	if q.DeviceID != "" {
		rows, err = s.pool.Query(ctx, sel+`
		WHERE  device_id = $1
		ORDER  BY received_at DESC
		LIMIT  $2`, q.DeviceID, limit)
	} else {
		rows, err = s.pool.Query(ctx, sel+`
		ORDER  BY received_at DESC
		LIMIT  $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}

	readings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (telemetry.Reading, error) {
		var r telemetry.Reading
		err := row.Scan(&r.ID, &r.DeviceID, &r.Temperature, &r.Humidity, &r.Timestamp, &r.ReceivedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	return readings, nil
}

// Ping checks connectivity. It satisfies health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
