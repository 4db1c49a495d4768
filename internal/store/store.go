// Package store defines the Alert Store contract: durable, crash-safe
// persistence of AlertContexts and the authoritative source for
// escalation decisions. Concrete backends live in the memory, sqlite, and
// postgres subpackages; Factory selects among them by deployment profile.
package store

import (
	"context"
	"time"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

// AckOutcome is the result of an acknowledge call.
type AckOutcome int

const (
	AckOutcomeAcknowledged AckOutcome = iota
	AckOutcomeNotFound
	AckOutcomeAlreadyAcked
)

// AdvanceOutcome is the result of an advance call.
type AdvanceOutcome int

const (
	AdvanceOutcomeOK AdvanceOutcome = iota
	AdvanceOutcomeAckedInFlight
	AdvanceOutcomeNotFound
)

// AlertStore is the durable mapping from alert identity to escalation
// state. Implementations serialize their own writes; concurrent readers
// are always permitted.
type AlertStore interface {
	// Insert allocates a fresh AlertId for each alert and persists it at
	// level_idx 0, not yet notified. Returns the allocated ids in the same
	// order as the input. Writes are atomic per alert: on partial failure
	// the ids already written are returned alongside the error.
	Insert(ctx context.Context, alerts []alertmodel.Alert) ([]alertmodel.AlertId, error)

	// PendingDue returns every un-acked context that was never notified
	// or whose last notification is at least escalationInterval in the
	// past, ordered by insertion time ascending and tie-broken by id.
	PendingDue(ctx context.Context, escalationInterval time.Duration) ([]alertmodel.AlertContext, error)

	// Advance atomically sets level_idx and last_notified_tmsp, rejecting
	// the write (AdvanceOutcomeAckedInFlight) if the context was
	// acknowledged concurrently.
	Advance(ctx context.Context, id alertmodel.AlertId, newLevelIdx uint, now time.Time) (AdvanceOutcome, error)

	// Acknowledge atomically sets acked_by/acked_on_level iff the context
	// exists and was not already acknowledged.
	Acknowledge(ctx context.Context, id alertmodel.AlertId, user alertmodel.User, level uint) (AckOutcome, error)

	// PendingSnapshot returns every un-acked context, for the "pending"
	// user command.
	PendingSnapshot(ctx context.Context) ([]alertmodel.AlertContext, error)

	// Close releases any underlying resources (connections, files).
	Close() error

	// Health reports whether the backend is reachable and usable.
	Health(ctx context.Context) error
}
