package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/modhost/pkg/telemetry"
)

// setupTestStore creates a file-backed SQLite store in a temp dir for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "ledger.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("Expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"bundles", "diagnostics"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migrate failed: %v", err)
	}
}

func TestBundleLedger(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	t.Run("latest of none", func(t *testing.T) {
		_, err := store.LatestBundle(ctx, "Acme")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []*BundleRecord{
		{Identity: "Acme", Path: "/mods/on-load.star", Checksum: "aaa", Fragments: 1, RunMode: "dev", CreatedAt: base},
		{Identity: "Acme", Path: "/mods/on-load.star", Checksum: "bbb", Fragments: 2, RunMode: "dev", CreatedAt: base.Add(time.Minute)},
		{Identity: "Other", Path: "/other/on-load.star", Checksum: "ccc", Fragments: 0, RunMode: "dev", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, r := range records {
		if err := store.RecordBundle(ctx, r); err != nil {
			t.Fatalf("Failed to record bundle: %v", err)
		}
		if r.ID == "" {
			t.Error("Expected ID to be assigned")
		}
	}

	t.Run("latest", func(t *testing.T) {
		latest, err := store.LatestBundle(ctx, "Acme")
		if err != nil {
			t.Fatalf("Failed to get latest bundle: %v", err)
		}
		if latest.Checksum != "bbb" || latest.Fragments != 2 {
			t.Errorf("Expected checksum bbb with 2 fragments, got %s with %d", latest.Checksum, latest.Fragments)
		}
	})

	t.Run("list all", func(t *testing.T) {
		all, err := store.ListBundles(ctx, nil, 10, 0)
		if err != nil {
			t.Fatalf("Failed to list bundles: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 bundles, got %d", len(all))
		}
		if all[0].Identity != "Other" {
			t.Errorf("Expected newest first, got %s", all[0].Identity)
		}
	})

	t.Run("list by identity", func(t *testing.T) {
		identity := "Acme"
		acme, err := store.ListBundles(ctx, &identity, 10, 0)
		if err != nil {
			t.Fatalf("Failed to list bundles: %v", err)
		}
		if len(acme) != 2 {
			t.Errorf("Expected 2 bundles, got %d", len(acme))
		}
	})
}

func TestDiagnostics(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	recorder := telemetry.NewDiagnostics(telemetry.DiagnosticsConfig{Capacity: 10}, nil)
	var sinkErr error
	recorder.Subscribe(DiagnosticSink(ctx, store, func(err error) { sinkErr = err }), nil)

	recorder.ReportUnresolved("Acme", "missing", "no such method", "")
	recorder.ReportInvalidRunMode("bogus", "rejected")

	if sinkErr != nil {
		t.Fatalf("Failed to persist diagnostic: %v", sinkErr)
	}

	all, err := store.ListDiagnostics(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list diagnostics: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 diagnostics, got %d", len(all))
	}

	identity := "Acme"
	acme, err := store.ListDiagnostics(ctx, &identity, 10, 0)
	if err != nil {
		t.Fatalf("Failed to list diagnostics: %v", err)
	}
	if len(acme) != 1 {
		t.Fatalf("Expected 1 diagnostic for Acme, got %d", len(acme))
	}
	if acme[0].Type != telemetry.DiagnosticUnresolvedCapability {
		t.Errorf("Expected type %s, got %s", telemetry.DiagnosticUnresolvedCapability, acme[0].Type)
	}
	if acme[0].Method == nil || *acme[0].Method != "missing" {
		t.Errorf("Expected method missing, got %v", acme[0].Method)
	}

	deleted, err := store.DeleteDiagnosticsBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to delete diagnostics: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
}

func TestNewDiagnosticRecord(t *testing.T) {
	d := telemetry.Diagnostic{
		ID:      "d-1",
		Type:    telemetry.DiagnosticStaleBundle,
		Level:   telemetry.LevelWarning,
		Message: "checksum mismatch",
		Data:    map[string]interface{}{"path": "/mods/on-load.star"},
	}

	record := NewDiagnosticRecord(d)
	if record.Controller != nil {
		t.Errorf("Expected nil controller, got %v", *record.Controller)
	}
	if record.Data == nil || *record.Data != `{"path":"/mods/on-load.star"}` {
		t.Errorf("Expected JSON data, got %v", record.Data)
	}
}
