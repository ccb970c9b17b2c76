package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/openfroyo/modhost/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordBundle appends a bundle generation. An empty ID or CreatedAt is filled in.
func (s *SQLiteStore) RecordBundle(ctx context.Context, record *BundleRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO bundles (id, identity, path, checksum, fragments, runmode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Identity,
		record.Path,
		record.Checksum,
		record.Fragments,
		record.RunMode,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record bundle: %w", err)
	}

	return nil
}

// LatestBundle returns the most recent generation for identity, or ErrNotFound.
func (s *SQLiteStore) LatestBundle(ctx context.Context, identity string) (*BundleRecord, error) {
	query := `
		SELECT id, identity, path, checksum, fragments, runmode, created_at
		FROM bundles
		WHERE identity = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	record := &BundleRecord{}
	err := s.db.QueryRowContext(ctx, query, identity).Scan(
		&record.ID,
		&record.Identity,
		&record.Path,
		&record.Checksum,
		&record.Fragments,
		&record.RunMode,
		&record.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("bundle for %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest bundle: %w", err)
	}

	return record, nil
}

// ListBundles lists bundle generations, newest first, optionally for one identity.
func (s *SQLiteStore) ListBundles(ctx context.Context, identity *string, limit, offset int) ([]*BundleRecord, error) {
	query := `
		SELECT id, identity, path, checksum, fragments, runmode, created_at
		FROM bundles
		WHERE (? IS NULL OR identity = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, identity, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	records := []*BundleRecord{}
	for rows.Next() {
		record := &BundleRecord{}
		err := rows.Scan(
			&record.ID,
			&record.Identity,
			&record.Path,
			&record.Checksum,
			&record.Fragments,
			&record.RunMode,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bundles: %w", err)
	}

	return records, nil
}

// AppendDiagnostic persists a diagnostic.
func (s *SQLiteStore) AppendDiagnostic(ctx context.Context, record *DiagnosticRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO diagnostics (id, type, level, controller, method, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Type,
		record.Level,
		record.Controller,
		record.Method,
		record.Message,
		record.Data,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append diagnostic: %w", err)
	}

	return nil
}

// ListDiagnostics lists diagnostics, newest first, optionally for one controller.
func (s *SQLiteStore) ListDiagnostics(ctx context.Context, controller *string, limit, offset int) ([]*DiagnosticRecord, error) {
	query := `
		SELECT id, type, level, controller, method, message, data, timestamp
		FROM diagnostics
		WHERE (? IS NULL OR controller = ?)
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, controller, controller, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	defer rows.Close()

	records := []*DiagnosticRecord{}
	for rows.Next() {
		record := &DiagnosticRecord{}
		err := rows.Scan(
			&record.ID,
			&record.Type,
			&record.Level,
			&record.Controller,
			&record.Method,
			&record.Message,
			&record.Data,
			&record.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostics: %w", err)
	}

	return records, nil
}

// DeleteDiagnosticsBefore removes diagnostics older than before.
func (s *SQLiteStore) DeleteDiagnosticsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM diagnostics WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete diagnostics: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// NewDiagnosticRecord converts a reported diagnostic into its persisted form.
func NewDiagnosticRecord(d telemetry.Diagnostic) *DiagnosticRecord {
	record := &DiagnosticRecord{
		ID:        d.ID,
		Type:      d.Type,
		Level:     d.Level,
		Message:   d.Message,
		Timestamp: d.Timestamp,
	}
	if d.Controller != "" {
		record.Controller = &d.Controller
	}
	if d.Method != "" {
		record.Method = &d.Method
	}
	if len(d.Data) > 0 {
		if data, err := json.Marshal(d.Data); err == nil {
			blob := string(data)
			record.Data = &blob
		}
	}
	return record
}

// DiagnosticSink returns a subscriber that persists every diagnostic it receives.
// Write failures are passed to onError when it is not nil.
func DiagnosticSink(ctx context.Context, store Store, onError func(error)) telemetry.DiagnosticSubscriber {
	return func(d telemetry.Diagnostic) {
		if err := store.AppendDiagnostic(ctx, NewDiagnosticRecord(d)); err != nil && onError != nil {
			onError(err)
		}
	}
}
