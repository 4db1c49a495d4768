package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/store/postgres"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigValidateRejectsMissingFields(t *testing.T) {
	cfg := postgres.DefaultConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = postgres.DefaultConfig()
	cfg.Database = ""
	assert.Error(t, cfg.Validate())

	cfg = postgres.DefaultConfig()
	cfg.User = ""
	assert.Error(t, cfg.Validate())

	cfg = postgres.DefaultConfig()
	cfg.MaxConns = 0
	assert.Error(t, cfg.Validate())
}

func TestConfigDSNFormatsConnectionString(t *testing.T) {
	cfg := postgres.Config{Host: "db", Port: 5432, Database: "ack", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/ack?sslmode=disable", cfg.DSN())
}

// TestNewAgainstLiveServer exercises the real backend end to end. It only
// runs when ACK_ESCALATION_TEST_POSTGRES_HOST names a reachable server
// with the alert_contexts schema already migrated (see
// internal/store/migrations), since there is no embedded Postgres to
// stand up for this package's own tests.
func TestNewAgainstLiveServer(t *testing.T) {
	host := os.Getenv("ACK_ESCALATION_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("ACK_ESCALATION_TEST_POSTGRES_HOST not set, skipping live postgres test")
	}

	cfg := postgres.DefaultConfig()
	cfg.Host = host

	s, err := postgres.New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Health(context.Background()))
}
