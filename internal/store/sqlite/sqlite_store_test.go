package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/store"
	"github.com/w3f/ack-escalation/internal/store/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) store.AlertStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.db")
	s, err := sqlite.New(context.Background(), path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestAlert(severity, name string) alertmodel.Alert {
	msg := "things are on fire"
	return alertmodel.Alert{
		Annotations: alertmodel.Annotations{Message: &msg},
		Labels:      alertmodel.Labels{Severity: severity, AlertName: name},
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := sqlite.New(context.Background(), "", discardLogger())
	assert.Error(t, err)
}

func TestNewRejectsDirectoryTraversal(t *testing.T) {
	_, err := sqlite.New(context.Background(), "../../../etc/passwd.db", discardLogger())
	assert.Error(t, err)
}

func TestNewRejectsForbiddenPathPrefix(t *testing.T) {
	_, err := sqlite.New(context.Background(), "/etc/ack-escalation.db", discardLogger())
	assert.Error(t, err)
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
	assert.Equal(t, "warn", pending[0].Alert.Labels.Severity)
	assert.Equal(t, "things are on fire", pending[0].Alert.Message())

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

func TestAdvanceNotFoundForUnknownId(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcome, err := s.Advance(ctx, alertmodel.AlertId(12345), 1, time.Now())
	require.NoError(t, err)
	assert.Equal(t, store.AdvanceOutcomeNotFound, outcome)
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

func TestHealthAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	s, err := sqlite.New(context.Background(), path, discardLogger())
	require.NoError(t, err)

	require.NoError(t, s.Health(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Health(context.Background()))
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.db")
	ctx := context.Background()

	s1, err := sqlite.New(ctx, path, discardLogger())
	require.NoError(t, err)
	ids, err := s1.Insert(ctx, []alertmodel.Alert{newTestAlert("warn", "disk")})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := sqlite.New(ctx, path, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	pending, err := s2.PendingSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[0], pending[0].Id)
}
