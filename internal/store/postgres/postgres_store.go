// Package postgres implements store.AlertStore backed by PostgreSQL via
// pgx's connection pool. Designed for the "standard" (HA, multi-replica)
// deployment profile.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/store"
)

// Config holds the connection parameters for the pool.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		Database: "ack_escalation",
		User:     "ack_escalation",
		SSLMode:  "disable",
		MaxConns: 20,
		MinConns: 2,
	}
}

// DSN returns the connection string pgxpool expects.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres: host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres: database is required")
	}
	if c.User == "" {
		return fmt.Errorf("postgres: user is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("postgres: max_conns must be > 0")
	}
	return nil
}

// Store implements store.AlertStore over a pgxpool.Pool. Schema
// migrations (table alert_contexts) are run separately via
// internal/store/migrations, not by this package.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New validates cfg, opens a pool, and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info("postgres alert store connected", "host", cfg.Host, "database", cfg.Database, "max_conns", cfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

var _ store.AlertStore = (*Store)(nil)

func (s *Store) Insert(ctx context.Context, alerts []alertmodel.Alert) ([]alertmodel.AlertId, error) {
	now := time.Now().Unix()
	ids := make([]alertmodel.AlertId, 0, len(alerts))

	for _, a := range alerts {
		var id int64
		err := s.pool.QueryRow(ctx, `
INSERT INTO alert_contexts (severity, alert_name, message, description, inserted_tmsp, level_idx)
VALUES ($1, $2, $3, $4, $5, 0)
RETURNING id
`, a.Labels.Severity, a.Labels.AlertName, a.Annotations.Message, a.Annotations.Description, now).Scan(&id)
		if err != nil {
			return ids, fmt.Errorf("postgres: insert alert: %w", err)
		}
		ids = append(ids, alertmodel.AlertId(id))
	}

	return ids, nil
}

const selectColumns = `
id, severity, alert_name, message, description, inserted_tmsp, level_idx,
last_notified_tmsp, acked_by_kind, acked_by_value, acked_on_level`

func scanContext(row pgx.Row) (alertmodel.AlertContext, error) {
	var c alertmodel.AlertContext
	var message, description *string
	var lastNotified *int64
	var ackedByKind *int
	var ackedByValue *string
	var ackedOnLevel *int
	var id int64
	var insertedTmsp int64
	var levelIdx int64

	if err := row.Scan(&id, &c.Alert.Labels.Severity, &c.Alert.Labels.AlertName, &message, &description,
		&insertedTmsp, &levelIdx, &lastNotified, &ackedByKind, &ackedByValue, &ackedOnLevel); err != nil {
		return c, err
	}

	c.Id = alertmodel.AlertId(id)
	c.InsertedTmsp = uint64(insertedTmsp)
	c.LevelIdx = uint(levelIdx)
	c.AdapterLevel = make(map[alertmodel.AdapterName]uint)
	c.Alert.Annotations.Message = message
	c.Alert.Annotations.Description = description

	if lastNotified != nil {
		v := uint64(*lastNotified)
		c.LastNotifiedTmsp = &v
	}
	if ackedByKind != nil && ackedByValue != nil {
		u := alertmodel.User{Kind: alertmodel.UserKind(*ackedByKind), Value: *ackedByValue}
		c.AckedBy = &u
	}
	if ackedOnLevel != nil {
		v := uint(*ackedOnLevel)
		c.AckedOnLevel = &v
	}

	return c, nil
}

func (s *Store) PendingDue(ctx context.Context, escalationInterval time.Duration) ([]alertmodel.AlertContext, error) {
	cutoff := time.Now().Add(-escalationInterval).Unix()

	rows, err := s.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM alert_contexts
WHERE acked_by_kind IS NULL
  AND (last_notified_tmsp IS NULL OR last_notified_tmsp <= $1)
ORDER BY inserted_tmsp ASC, id ASC
`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending_due: %w", err)
	}
	defer rows.Close()

	var out []alertmodel.AlertContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending_due row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Advance(ctx context.Context, id alertmodel.AlertId, newLevelIdx uint, now time.Time) (store.AdvanceOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE alert_contexts
SET level_idx = $1, last_notified_tmsp = $2
WHERE id = $3 AND acked_by_kind IS NULL
`, newLevelIdx, now.Unix(), int64(id))
	if err != nil {
		return store.AdvanceOutcomeNotFound, fmt.Errorf("postgres: advance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return store.AdvanceOutcomeOK, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM alert_contexts WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return store.AdvanceOutcomeNotFound, fmt.Errorf("postgres: advance existence check: %w", err)
	}
	if !exists {
		return store.AdvanceOutcomeNotFound, nil
	}
	return store.AdvanceOutcomeAckedInFlight, nil
}

func (s *Store) Acknowledge(ctx context.Context, id alertmodel.AlertId, user alertmodel.User, level uint) (store.AckOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE alert_contexts
SET acked_by_kind = $1, acked_by_value = $2, acked_on_level = $3
WHERE id = $4 AND acked_by_kind IS NULL
`, int(user.Kind), user.Value, level, int64(id))
	if err != nil {
		return store.AckOutcomeNotFound, fmt.Errorf("postgres: acknowledge: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return store.AckOutcomeAcknowledged, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM alert_contexts WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return store.AckOutcomeNotFound, fmt.Errorf("postgres: acknowledge existence check: %w", err)
	}
	if !exists {
		return store.AckOutcomeNotFound, nil
	}
	return store.AckOutcomeAlreadyAcked, nil
}

func (s *Store) PendingSnapshot(ctx context.Context) ([]alertmodel.AlertContext, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM alert_contexts
WHERE acked_by_kind IS NULL
ORDER BY inserted_tmsp ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending_snapshot: %w", err)
	}
	defer rows.Close()

	var out []alertmodel.AlertContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending_snapshot row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	s.logger.Info("postgres alert store closed")
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
