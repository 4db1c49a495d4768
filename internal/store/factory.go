package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/w3f/ack-escalation/internal/store/memory"
	"github.com/w3f/ack-escalation/internal/store/postgres"
	"github.com/w3f/ack-escalation/internal/store/sqlite"
)

// Backend selects which concrete AlertStore implementation to construct.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config configures whichever backend is selected.
type Config struct {
	Backend      Backend
	SQLitePath   string
	Postgres     postgres.Config
}

// New constructs the configured AlertStore backend. On a postgres or
// sqlite initialization failure, the caller may fall back to
// memory.New(logger) to keep serving degraded; New itself never silently
// substitutes backends.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (AlertStore, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return memory.New(logger), nil
	case BackendSQLite:
		s, err := sqlite.New(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("store: init sqlite backend: %w", err)
		}
		return s, nil
	case BackendPostgres:
		s, err := postgres.New(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("store: init postgres backend: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}

// NewFallback builds a memory-backed store for graceful degradation when
// the configured durable backend is unreachable at startup.
func NewFallback(logger *slog.Logger) AlertStore {
	return memory.New(logger)
}
