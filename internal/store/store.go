// Package store defines the session catalog persistence interface and
// provides SQLite and PostgreSQL implementations.
//
// The catalog is a discovery surface only: it records which sessions have
// been announced, not which are currently routable. Live routing state is
// owned by the router and the two are deliberately never synchronized.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jamlink/jamlink/internal/config"
)

// Store is the persistence interface for the session catalog.
type Store interface {
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListActiveSessions(ctx context.Context, limit int) ([]Session, error)
	SetSessionActive(ctx context.Context, id string, active bool) error
	PurgeInactiveSessions(ctx context.Context, before time.Time) (int64, error)

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Session is a catalog record for an announced session.
//
// HostID and ClientCount are advisory bookkeeping set through the REST API;
// the router never writes them back.
type Session struct {
	ID          string    `json:"id"`
	HostID      string    `json:"host_id"`
	Name        string    `json:"session_name"`
	CreatedAt   time.Time `json:"created_at"`
	IsActive    bool      `json:"is_active"`
	ClientCount int       `json:"client_count"`
}

// New creates a Store based on the configured storage driver.
func New(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
