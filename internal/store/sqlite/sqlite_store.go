// Package sqlite implements store.AlertStore using an embedded SQLite
// database. Designed for the single-node ("lite") deployment profile with
// no external dependencies.
//
// Schema is shared in spirit with the postgres backend: same column
// names and semantics, so the two are interchangeable without touching
// callers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Pure Go SQLite driver, no CGO, easy cross-compilation.
	_ "modernc.org/sqlite"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/store"
)

// Store implements store.AlertStore backed by a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// New opens (creating if needed) the SQLite database at path and
// initializes its schema. Path must not reference a forbidden system
// directory or contain directory traversal segments.
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("sqlite: invalid path contains '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, fmt.Errorf("sqlite: forbidden path prefix %s: %s", prefix, path)
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	s := &Store{db: db, logger: logger, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set sqlite file permissions to 0600", "path", path, "error", err)
	}

	logger.Info("sqlite alert store initialized", "path", path, "wal_mode", true)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS alert_contexts (
    id                 INTEGER PRIMARY KEY,
    severity           TEXT NOT NULL,
    alert_name         TEXT NOT NULL,
    message            TEXT,
    description        TEXT,
    inserted_tmsp      INTEGER NOT NULL,
    level_idx          INTEGER NOT NULL DEFAULT 0,
    last_notified_tmsp INTEGER,
    acked_by_kind      INTEGER,
    acked_by_value     TEXT,
    acked_on_level     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_alert_contexts_acked_by_kind ON alert_contexts(acked_by_kind);
CREATE INDEX IF NOT EXISTS idx_alert_contexts_inserted_tmsp ON alert_contexts(inserted_tmsp);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

var _ store.AlertStore = (*Store)(nil)

func (s *Store) Insert(ctx context.Context, alerts []alertmodel.Alert) ([]alertmodel.AlertId, error) {
	now := time.Now().Unix()
	ids := make([]alertmodel.AlertId, 0, len(alerts))

	for _, a := range alerts {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO alert_contexts (severity, alert_name, message, description, inserted_tmsp, level_idx)
VALUES (?, ?, ?, ?, ?, 0)
`, a.Labels.Severity, a.Labels.AlertName, nullableString(a.Annotations.Message), nullableString(a.Annotations.Description), now)
		if err != nil {
			return ids, fmt.Errorf("sqlite: insert alert: %w", err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return ids, fmt.Errorf("sqlite: read inserted id: %w", err)
		}
		ids = append(ids, alertmodel.AlertId(rowID))
	}

	return ids, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

const selectColumns = `
id, severity, alert_name, message, description, inserted_tmsp, level_idx,
last_notified_tmsp, acked_by_kind, acked_by_value, acked_on_level`

func scanContext(row interface {
	Scan(dest ...any) error
}) (alertmodel.AlertContext, error) {
	var c alertmodel.AlertContext
	var message, description sql.NullString
	var lastNotified sql.NullInt64
	var ackedByKind sql.NullInt64
	var ackedByValue sql.NullString
	var ackedOnLevel sql.NullInt64
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

	if message.Valid {
		v := message.String
		c.Alert.Annotations.Message = &v
	}
	if description.Valid {
		v := description.String
		c.Alert.Annotations.Description = &v
	}
	if lastNotified.Valid {
		v := uint64(lastNotified.Int64)
		c.LastNotifiedTmsp = &v
	}
	if ackedByKind.Valid && ackedByValue.Valid {
		u := alertmodel.User{Kind: alertmodel.UserKind(ackedByKind.Int64), Value: ackedByValue.String}
		c.AckedBy = &u
	}
	if ackedOnLevel.Valid {
		v := uint(ackedOnLevel.Int64)
		c.AckedOnLevel = &v
	}

	return c, nil
}

func (s *Store) PendingDue(ctx context.Context, escalationInterval time.Duration) ([]alertmodel.AlertContext, error) {
	cutoff := time.Now().Add(-escalationInterval).Unix()

	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM alert_contexts
WHERE acked_by_kind IS NULL
  AND (last_notified_tmsp IS NULL OR last_notified_tmsp <= ?)
ORDER BY inserted_tmsp ASC, id ASC
`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending_due: %w", err)
	}
	defer rows.Close()

	var out []alertmodel.AlertContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan pending_due row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Advance(ctx context.Context, id alertmodel.AlertId, newLevelIdx uint, now time.Time) (store.AdvanceOutcome, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE alert_contexts
SET level_idx = ?, last_notified_tmsp = ?
WHERE id = ? AND acked_by_kind IS NULL
`, newLevelIdx, now.Unix(), int64(id))
	if err != nil {
		return store.AdvanceOutcomeNotFound, fmt.Errorf("sqlite: advance: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return store.AdvanceOutcomeNotFound, fmt.Errorf("sqlite: advance rows affected: %w", err)
	}
	if rows == 1 {
		return store.AdvanceOutcomeOK, nil
	}

	// Either the row doesn't exist, or it was acknowledged concurrently.
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alert_contexts WHERE id = ?)`, int64(id)).Scan(&exists)
	if err != nil {
		return store.AdvanceOutcomeNotFound, fmt.Errorf("sqlite: advance existence check: %w", err)
	}
	if !exists {
		return store.AdvanceOutcomeNotFound, nil
	}
	return store.AdvanceOutcomeAckedInFlight, nil
}

func (s *Store) Acknowledge(ctx context.Context, id alertmodel.AlertId, user alertmodel.User, level uint) (store.AckOutcome, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE alert_contexts
SET acked_by_kind = ?, acked_by_value = ?, acked_on_level = ?
WHERE id = ? AND acked_by_kind IS NULL
`, int(user.Kind), user.Value, level, int64(id))
	if err != nil {
		return store.AckOutcomeNotFound, fmt.Errorf("sqlite: acknowledge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return store.AckOutcomeNotFound, fmt.Errorf("sqlite: acknowledge rows affected: %w", err)
	}
	if rows == 1 {
		return store.AckOutcomeAcknowledged, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alert_contexts WHERE id = ?)`, int64(id)).Scan(&exists)
	if err != nil {
		return store.AckOutcomeNotFound, fmt.Errorf("sqlite: acknowledge existence check: %w", err)
	}
	if !exists {
		return store.AckOutcomeNotFound, nil
	}
	return store.AckOutcomeAlreadyAcked, nil
}

func (s *Store) PendingSnapshot(ctx context.Context) ([]alertmodel.AlertContext, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM alert_contexts
WHERE acked_by_kind IS NULL
ORDER BY inserted_tmsp ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending_snapshot: %w", err)
	}
	defer rows.Close()

	var out []alertmodel.AlertContext
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan pending_snapshot row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	s.logger.Info("sqlite alert store closed", "path", s.path)
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("sqlite: connection is nil")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health check failed: %w", err)
	}
	return nil
}
