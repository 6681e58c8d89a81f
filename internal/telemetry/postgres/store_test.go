package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chytonpide/chipi/internal/telemetry"
	"github.com/chytonpide/chipi/internal/telemetry/postgres"
)

// testDSN skips the test unless CHIPI_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CHIPI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHIPI_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS sensor_readings"); err != nil {
		t.Fatalf("drop: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func reading(device string, at time.Time) telemetry.Reading {
	return telemetry.Reading{
		ID:          uuid.NewString(),
		DeviceID:    device,
		Temperature: 24.5,
		Humidity:    55,
		Timestamp:   at.Format(time.RFC3339),
		ReceivedAt:  at,
	}
}

func TestStore_SaveAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, dev := range []string{"ESP32-S3-001", "ESP32-S3-002", "ESP32-S3-001"} {
		if err := store.Save(ctx, reading(dev, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all, err := store.Recent(ctx, telemetry.Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || !all[0].ReceivedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("Recent = %+v, want 3 newest first", all)
	}

	one, err := store.Recent(ctx, telemetry.Query{DeviceID: "ESP32-S3-001", Limit: 1})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(one) != 1 || one[0].DeviceID != "ESP32-S3-001" || one[0].Timestamp != base.Add(2*time.Minute).Format(time.RFC3339) {
		t.Fatalf("Recent(device) = %+v", one)
	}
}

func TestStore_EmptyAndPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.Recent(ctx, telemetry.Query{DeviceID: "nobody"})
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("Recent = %v, %v; want empty non-nil slice", got, err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	pool, err := pgxpool.New(context.Background(), testDSN(t))
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(context.Background(), pool); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}
