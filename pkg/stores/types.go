package stores

import (
	"context"
	"time"
)

// BundleRecord is one generation of a controller's bundle file.
type BundleRecord struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Fragments int       `json:"fragments"`
	RunMode   string    `json:"runmode"`
	CreatedAt time.Time `json:"created_at"`
}

// DiagnosticRecord is a persisted diagnostic.
type DiagnosticRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Level      string    `json:"level"`
	Controller *string   `json:"controller,omitempty"`
	Method     *string   `json:"method,omitempty"`
	Message    string    `json:"message"`
	Data       *string   `json:"data,omitempty"` // JSON blob
	Timestamp  time.Time `json:"timestamp"`
}

// Store defines the interface for the bundle ledger.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Bundle generations
	RecordBundle(ctx context.Context, record *BundleRecord) error
	LatestBundle(ctx context.Context, identity string) (*BundleRecord, error)
	ListBundles(ctx context.Context, identity *string, limit, offset int) ([]*BundleRecord, error)

	// Diagnostics
	AppendDiagnostic(ctx context.Context, record *DiagnosticRecord) error
	ListDiagnostics(ctx context.Context, controller *string, limit, offset int) ([]*DiagnosticRecord, error)
	DeleteDiagnosticsBefore(ctx context.Context, before time.Time) (int64, error)

	// Health
	HealthCheck(ctx context.Context) error
}
