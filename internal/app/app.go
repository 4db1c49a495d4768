// Package app wires together a single Application instance: the Alert
// Store, the configured adapters, the Escalation Scheduler, the
// Acknowledgement Handler, and the inbound webhook HTTP server. It
// replaces the source's global-registry singleton lookup with ordinary
// dependency injection, constructed once at process startup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/w3f/ack-escalation/internal/adapter"
	"github.com/w3f/ack-escalation/internal/adapter/chat"
	"github.com/w3f/ack-escalation/internal/adapter/mail"
	"github.com/w3f/ack-escalation/internal/adapter/paging"
	"github.com/w3f/ack-escalation/internal/ackhandler"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/cache"
	"github.com/w3f/ack-escalation/internal/config"
	"github.com/w3f/ack-escalation/internal/metrics"
	"github.com/w3f/ack-escalation/internal/permission"
	"github.com/w3f/ack-escalation/internal/roles"
	"github.com/w3f/ack-escalation/internal/scheduler"
	"github.com/w3f/ack-escalation/internal/store"
	"github.com/w3f/ack-escalation/internal/store/postgres"
	"github.com/w3f/ack-escalation/internal/webhook"
)

// Application owns every long-lived collaborator and the goroutines
// that drive them.
type Application struct {
	Store     store.AlertStore
	Adapters  []adapter.Adapter
	Scheduler *scheduler.Scheduler
	AckHandler *ackhandler.Handler
	Server    *http.Server

	chatTransport *chat.ChannelTransport
	logger        *slog.Logger
}

// New builds an Application from configuration: opens the Alert Store,
// constructs every enabled adapter, and wires the scheduler and
// acknowledgement handler around them. The HTTP server is constructed
// but not started; callers call Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := buildStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("app: build store: %w", err)
	}

	dedup := buildDedupCache(cfg.Redis, logger)

	adapters, chatTransport, err := buildAdapters(cfg.Adapters, dedup, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build adapters: %w", err)
	}

	policy, err := buildPolicy(cfg.Permission, cfg.Roles)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build permission policy: %w", err)
	}

	sched, err := scheduler.New(scheduler.SchedulerConfig{
		Store:    st,
		Adapters: adapters,
		Config: scheduler.Config{
			EscalationInterval: cfg.Escalation.Interval,
			TickInterval:       cfg.Escalation.TickInterval,
		},
		Logger:  logger,
		Metrics: metrics.NewSchedulerMetrics(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build scheduler: %w", err)
	}

	ackH, err := ackhandler.New(ackhandler.HandlerConfig{
		Store:    st,
		Adapters: adapters,
		Policy:   policy,
		Logger:   logger,
		Metrics:  metrics.NewAckMetrics(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build ack handler: %w", err)
	}

	var chatIngester webhook.ChatIngester
	for _, a := range adapters {
		if ca, ok := a.(*chat.Adapter); ok {
			chatIngester = ca
		}
	}

	wh, err := webhook.New(webhook.HandlerConfig{
		Store:   st,
		Chat:    chatIngester,
		Logger:  logger,
		Metrics: metrics.NewHTTPMetrics(),
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: build webhook handler: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      wh.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Application{
		Store:         st,
		Adapters:      adapters,
		Scheduler:     sched,
		AckHandler:    ackH,
		Server:        server,
		chatTransport: chatTransport,
		logger:        logger.With("component", "app"),
	}, nil
}

// Run starts the scheduler, the acknowledgement handler's fan-in
// consumer, every polling adapter, and the HTTP server, blocking until
// ctx is cancelled. Callers are responsible for calling Shutdown after
// ctx cancellation.
func (a *Application) Run(ctx context.Context) {
	go a.Scheduler.Run(ctx)
	go a.AckHandler.Run(ctx)

	for _, ad := range a.Adapters {
		switch concrete := ad.(type) {
		case *paging.Adapter:
			go concrete.Run(ctx)
		case *mail.Adapter:
			go concrete.Run(ctx)
		}
	}

	a.logger.InfoContext(ctx, "http server starting", slog.String("addr", a.Server.Addr))
	if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.logger.ErrorContext(ctx, "http server failed", slog.String("error", err.Error()))
	}
}

// Shutdown closes the HTTP server and the store within timeout.
func (a *Application) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Server.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown failed", slog.String("error", err.Error()))
	}
	if a.chatTransport != nil {
		a.chatTransport.Close()
	}
	return a.Store.Close()
}

func buildStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.AlertStore, error) {
	return store.New(ctx, store.Config{
		Backend:    store.Backend(cfg.Backend),
		SQLitePath: cfg.SQLitePath,
		Postgres: postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		},
	}, logger)
}

func buildDedupCache(cfg config.RedisConfig, logger *slog.Logger) cache.DedupCache {
	if cfg.Addr == "" {
		return cache.NewMemoryDedupCache(10000, time.Hour)
	}
	rc, err := cache.NewRedisDedupCache(cache.Config{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}, logger)
	if err != nil {
		logger.Warn("redis dedup cache unavailable, falling back to in-process cache", slog.String("error", err.Error()))
		return cache.NewMemoryDedupCache(10000, time.Hour)
	}
	return rc
}

func buildPolicy(cfg config.PermissionConfig, roleEntries []config.RoleEntry) (permission.Policy, error) {
	idx := buildRoleIndex(roleEntries)

	switch cfg.Mode {
	case config.PermissionModeUsers:
		users := make([]alertmodel.User, 0, len(cfg.Users))
		for _, u := range cfg.Users {
			users = append(users, alertmodel.ChatUser(u))
		}
		return permission.NewUsersPolicy(users), nil
	case config.PermissionModeMinRole:
		return permission.NewMinRolePolicy(alertmodel.Role(cfg.Role), idx), nil
	case config.PermissionModeRoles:
		roleSet := make([]alertmodel.Role, 0, len(cfg.Roles))
		for _, r := range cfg.Roles {
			roleSet = append(roleSet, alertmodel.Role(r))
		}
		return permission.NewRolesPolicy(roleSet, idx), nil
	case config.PermissionModeEscalationLevel:
		return permission.NewEscalationLevelPolicy(cfg.Level), nil
	default:
		return permission.Policy{}, fmt.Errorf("unknown permission mode %q", cfg.Mode)
	}
}

func buildRoleIndex(entries []config.RoleEntry) *roles.Index {
	out := make([]roles.Entry, 0, len(entries))
	for _, e := range entries {
		users := make([]alertmodel.User, 0, len(e.Users))
		for _, u := range e.Users {
			users = append(users, alertmodel.ChatUser(u))
		}
		out = append(out, roles.Entry{Role: alertmodel.Role(e.Role), Users: users})
	}
	return roles.NewIndex(out)
}

func buildAdapters(cfg config.AdaptersConfig, dedup cache.DedupCache, logger *slog.Logger) ([]adapter.Adapter, *chat.ChannelTransport, error) {
	var adapters []adapter.Adapter
	var chatTransport *chat.ChannelTransport

	if cfg.Chat.Enabled {
		chatTransport = chat.NewChannelTransport(256)
		client := chat.NewHTTPOutboundClient(cfg.Chat.WebhookURLs, logger)
		adapters = append(adapters, chat.New(cfg.Chat.Rooms, client, chatTransport, logger))
	}

	if cfg.Paging.Enabled {
		levels := make([]paging.Level, 0, len(cfg.Paging.Levels))
		for _, l := range cfg.Paging.Levels {
			levels = append(levels, paging.Level{IntegrationKey: l.IntegrationKey, PayloadSeverity: l.PayloadSeverity})
		}
		client := paging.NewHTTPOutboundClient(cfg.Paging.APIKey, logger)
		adapters = append(adapters, paging.New(levels, paging.Config{
			APIKey:           cfg.Paging.APIKey,
			PayloadSource:    cfg.Paging.PayloadSource,
			OnlyOnEscalation: cfg.Paging.OnlyOnEscalation,
			PollInterval:     cfg.Paging.PollInterval,
			DedupTTL:         cfg.Paging.DedupTTL,
		}, client, client, dedup, logger))
	}

	if cfg.Mail.Enabled {
		client := mail.NewSMTPOutboundClient(cfg.Mail.SMTPHost, cfg.Mail.SMTPPort, cfg.Mail.SMTPUsername, cfg.Mail.SMTPPassword, cfg.Mail.SMTPFrom, logger)
		adapters = append(adapters, mail.New(cfg.Mail.Addresses, mail.Config{
			PollInterval: cfg.Mail.PollInterval,
			MaxImportAge: cfg.Mail.MaxImportAge,
			DedupTTL:     cfg.Mail.DedupTTL,
		}, client, mail.NoopInboundClient{}, dedup, logger))
	}

	if len(adapters) == 0 {
		return nil, nil, fmt.Errorf("no adapter is enabled")
	}
	return adapters, chatTransport, nil
}
