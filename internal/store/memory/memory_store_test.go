package memory_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/store"
	"github.com/w3f/ack-escalation/internal/store/memory"
)

func newTestStore(t *testing.T) store.AlertStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return memory.New(logger)
}

func newTestAlert(severity, name string) alertmodel.Alert {
	msg := "things are on fire"
	return alertmodel.Alert{
		Annotations: alertmodel.Annotations{Message: &msg},
		Labels:      alertmodel.Labels{Severity: severity, AlertName: name},
	}
}

func TestInsertAllocatesIncreasingIds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk"), newTestAlert("critical", "cpu")})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Less(t, ids[0], ids[1])
}

func TestPendingDueOnlyUnNotifiedOrElapsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk")})
	require.NoError(t, err)
	id := ids[0]

	pending, err := s.PendingDue(ctx, time.Second)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].Id)

	outcome, err := s.Advance(ctx, id, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, store.AdvanceOutcomeOK, outcome)

	pending, err = s.PendingDue(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAdvanceRejectsWhenAckedInFlight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk")})
	require.NoError(t, err)
	id := ids[0]

	ackOutcome, err := s.Acknowledge(ctx, id, alertmodel.ChatUser("u1"), 0)
	require.NoError(t, err)
	assert.Equal(t, store.AckOutcomeAcknowledged, ackOutcome)

	advOutcome, err := s.Advance(ctx, id, 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, store.AdvanceOutcomeAckedInFlight, advOutcome)
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk")})
	require.NoError(t, err)
	id := ids[0]

	first, err := s.Acknowledge(ctx, id, alertmodel.ChatUser("u1"), 0)
	require.NoError(t, err)
	assert.Equal(t, store.AckOutcomeAcknowledged, first)

	second, err := s.Acknowledge(ctx, id, alertmodel.ChatUser("u2"), 1)
	require.NoError(t, err)
	assert.Equal(t, store.AckOutcomeAlreadyAcked, second)
}

func TestAcknowledgeNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome, err := s.Acknowledge(ctx, alertmodel.AlertId(999), alertmodel.ChatUser("u1"), 0)
	require.NoError(t, err)
	assert.Equal(t, store.AckOutcomeNotFound, outcome)
}

func TestPendingSnapshotExcludesAcked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk"), newTestAlert("crit", "cpu")})
	require.NoError(t, err)

	_, err = s.Acknowledge(ctx, ids[0], alertmodel.ChatUser("u1"), 0)
	require.NoError(t, err)

	snapshot, err := s.PendingSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, ids[1], snapshot[0].Id)
}

func TestClonesAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk")})
	require.NoError(t, err)

	pending, err := s.PendingDue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	mutated := pending[0]
	level := uint(99)
	mutated.AckedOnLevel = &level

	again, err := s.PendingDue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Nil(t, again[0].AckedOnLevel)
	_ = ids
}
