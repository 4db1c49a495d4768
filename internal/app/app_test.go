package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/cache"
	"github.com/w3f/ack-escalation/internal/config"
	"github.com/w3f/ack-escalation/internal/permission"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildPolicyUsersMode(t *testing.T) {
	policy, err := buildPolicy(config.PermissionConfig{Mode: config.PermissionModeUsers, Users: []string{"alice"}}, nil)
	require.NoError(t, err)

	outcome := policy.Evaluate(alertmodel.UserAction{User: alertmodel.ChatUser("alice")})
	assert.Equal(t, permission.OutcomeAccepted, outcome)
}

func TestBuildPolicyMinRoleModeUsesRoleIndex(t *testing.T) {
	roles := []config.RoleEntry{
		{Role: "oncall", Users: []string{"bob"}},
		{Role: "lead", Users: []string{"carol"}},
	}
	policy, err := buildPolicy(config.PermissionConfig{Mode: config.PermissionModeMinRole, Role: "oncall"}, roles)
	require.NoError(t, err)

	outcome := policy.Evaluate(alertmodel.UserAction{User: alertmodel.ChatUser("bob")})
	assert.Equal(t, permission.OutcomeAccepted, outcome)
}

func TestBuildPolicyEscalationLevelMode(t *testing.T) {
	policy, err := buildPolicy(config.PermissionConfig{Mode: config.PermissionModeEscalationLevel, Level: 1}, nil)
	require.NoError(t, err)

	action := alertmodel.UserAction{User: alertmodel.ChatUser("anyone"), ChannelId: 1}
	outcome := policy.Evaluate(action)
	assert.Equal(t, permission.OutcomeAccepted, outcome)
}

func TestBuildPolicyRejectsUnknownMode(t *testing.T) {
	_, err := buildPolicy(config.PermissionConfig{Mode: "nonsense"}, nil)
	assert.Error(t, err)
}

func TestBuildDedupCacheFallsBackToMemoryWhenRedisUnconfigured(t *testing.T) {
	dedup := buildDedupCache(config.RedisConfig{}, discardLogger())
	_, ok := dedup.(*cache.MemoryDedupCache)
	assert.True(t, ok, "expected in-process memory cache when redis.addr is empty")
}

func TestBuildDedupCacheFallsBackToMemoryWhenRedisUnreachable(t *testing.T) {
	dedup := buildDedupCache(config.RedisConfig{Addr: "127.0.0.1:1"}, discardLogger())
	_, ok := dedup.(*cache.MemoryDedupCache)
	assert.True(t, ok, "expected fallback to memory cache when redis is unreachable")
}

func TestBuildAdaptersRejectsEmptyConfig(t *testing.T) {
	_, _, err := buildAdapters(config.AdaptersConfig{}, cache.NewMemoryDedupCache(10, time.Hour), discardLogger())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no adapter is enabled")
}

func TestBuildAdaptersBuildsEnabledChatAdapterOnly(t *testing.T) {
	cfg := config.AdaptersConfig{
		Chat: config.ChatAdapterConfig{Enabled: true, Rooms: []string{"ops"}, WebhookURLs: map[string]string{"ops": "https://example.invalid/hook"}},
	}
	adapters, transport, err := buildAdapters(cfg, cache.NewMemoryDedupCache(10, time.Hour), discardLogger())
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.NotNil(t, transport)
	assert.Equal(t, alertmodel.AdapterChat, adapters[0].Name())
	t.Cleanup(func() { _ = transport.Close() })
}

func TestBuildAdaptersBuildsMultipleEnabledAdapters(t *testing.T) {
	cfg := config.AdaptersConfig{
		Chat:   config.ChatAdapterConfig{Enabled: true, Rooms: []string{"ops"}},
		Paging: config.PagingAdapterConfig{Enabled: true, Levels: []config.PagingLevel{{IntegrationKey: "key1"}}},
	}
	adapters, transport, err := buildAdapters(cfg, cache.NewMemoryDedupCache(10, time.Hour), discardLogger())
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	t.Cleanup(func() { _ = transport.Close() })
}

func TestNewBuildsApplicationWithMemoryStoreAndChatAdapter(t *testing.T) {
	cfg := &config.Config{
		Escalation: config.EscalationConfig{Interval: time.Minute, TickInterval: time.Second},
		Storage:    config.StorageConfig{Backend: config.StorageBackendMemory},
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Adapters: config.AdaptersConfig{
			Chat: config.ChatAdapterConfig{Enabled: true, Rooms: []string{"ops"}},
		},
		Permission: config.PermissionConfig{Mode: config.PermissionModeUsers, Users: []string{"alice"}},
	}

	application, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, application)

	assert.Len(t, application.Adapters, 1)
	assert.NotNil(t, application.Scheduler)
	assert.NotNil(t, application.AckHandler)
	assert.NotNil(t, application.Server)

	assert.NoError(t, application.Shutdown(time.Second))
}

func TestNewFailsWhenNoAdapterEnabled(t *testing.T) {
	cfg := &config.Config{
		Escalation: config.EscalationConfig{Interval: time.Minute, TickInterval: time.Second},
		Storage:    config.StorageConfig{Backend: config.StorageBackendMemory},
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Permission: config.PermissionConfig{Mode: config.PermissionModeUsers, Users: []string{"alice"}},
	}

	_, err := New(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestNewFailsOnUnknownPermissionMode(t *testing.T) {
	cfg := &config.Config{
		Escalation: config.EscalationConfig{Interval: time.Minute, TickInterval: time.Second},
		Storage:    config.StorageConfig{Backend: config.StorageBackendMemory},
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Adapters: config.AdaptersConfig{
			Chat: config.ChatAdapterConfig{Enabled: true, Rooms: []string{"ops"}},
		},
		Permission: config.PermissionConfig{Mode: "nonsense"},
	}

	_, err := New(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}
