package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupDB(t)
	// Second run must be a no-op.
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertRequest(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	if err := InsertRequest(ctx, database, "chan-1", "vid-1", "live-chat", "Song A", "Alice"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var title, requester string
	err := database.QueryRowContext(ctx,
		`SELECT title, requester FROM requests WHERE scope=$1 ORDER BY id DESC LIMIT 1`, "chan-1").
		Scan(&title, &requester)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if title != "Song A" || requester != "Alice" {
		t.Errorf("row = %q, %q", title, requester)
	}
}

func TestSessionLifecycle(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	id, err := RecordSessionStart(ctx, database, "chan-1", "vid-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == 0 {
		t.Fatal("session id = 0")
	}
	if err := RecordSessionEnd(ctx, database, id, "stopped"); err != nil {
		t.Fatalf("end: %v", err)
	}

	var reason sql.NullString
	var endedAt sql.NullTime
	err = database.QueryRowContext(ctx,
		`SELECT end_reason, ended_at FROM sessions WHERE id=$1`, id).Scan(&reason, &endedAt)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reason.Valid || reason.String != "stopped" {
		t.Errorf("end_reason = %v", reason)
	}
	if !endedAt.Valid {
		t.Error("ended_at not set")
	}
}

func TestOAuthTokenRoundtrip(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	store := Store{DB: database}

	// Missing row returns zero values, not an error.
	access, refresh, expiry, _, err := store.GetOAuthToken(ctx, "nonexistent-provider")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if access != "" || refresh != "" || !expiry.IsZero() {
		t.Errorf("missing row = %q, %q, %v", access, refresh, expiry)
	}

	want := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.UpsertOAuthToken(ctx, "test-provider", "access-1", "refresh-1", want, "{}"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	access, refresh, expiry, raw, err := store.GetOAuthToken(ctx, "test-provider")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if access != "access-1" || refresh != "refresh-1" || raw != "{}" {
		t.Errorf("row = %q, %q, %q", access, refresh, raw)
	}
	if !expiry.UTC().Truncate(time.Second).Equal(want) {
		t.Errorf("expiry = %v, want %v", expiry, want)
	}

	// Upsert replaces in place.
	if err := store.UpsertOAuthToken(ctx, "test-provider", "access-2", "refresh-2", want, ""); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	access, _, _, _, err = store.GetOAuthToken(ctx, "test-provider")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if access != "access-2" {
		t.Errorf("access after upsert = %q", access)
	}
}
