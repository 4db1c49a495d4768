// Package ackhandler implements the Acknowledgement Handler: it merges
// every adapter's inbound UserAction stream into one consumer, evaluates
// the configured Permission Policy, writes acknowledgements to the Alert
// Store, and fans retro-notifications back out to every adapter.
package ackhandler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/w3f/ack-escalation/internal/adapter"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/command"
	"github.com/w3f/ack-escalation/internal/metrics"
	"github.com/w3f/ack-escalation/internal/permission"
	"github.com/w3f/ack-escalation/internal/store"
)

// Handler consumes UserActions from every registered adapter and drives
// the acknowledgement protocol described in spec §4.7.
type Handler struct {
	store    store.AlertStore
	adapters []adapter.Adapter
	policy   permission.Policy
	logger   *slog.Logger
	metrics  *metrics.AckMetrics
	now      func() time.Time
}

// HandlerConfig is the constructor input, validated by New.
type HandlerConfig struct {
	Store    store.AlertStore
	Adapters []adapter.Adapter
	Policy   permission.Policy
	Logger   *slog.Logger
	Metrics  *metrics.AckMetrics
}

// New builds a Handler, requiring a non-nil store and at least one
// adapter.
func New(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: ack handler requires a non-nil store", alertmodel.ErrConfigInvalid)
	}
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("%w: ack handler requires at least one adapter", alertmodel.ErrConfigInvalid)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewAckMetrics()
	}
	return &Handler{
		store:    cfg.Store,
		adapters: cfg.Adapters,
		policy:   cfg.Policy,
		logger:   cfg.Logger.With("component", "ack_handler"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// Run fans in every adapter's EndpointRequest stream and processes each
// UserAction as it arrives, until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	actions := make(chan adapterAction)

	for _, a := range h.adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			h.pump(ctx, a, actions)
		}(a)
	}

	go func() {
		wg.Wait()
		close(actions)
	}()

	for {
		select {
		case aa, ok := <-actions:
			if !ok {
				return
			}
			h.Handle(ctx, aa.source, aa.action)
		case <-ctx.Done():
			return
		}
	}
}

type adapterAction struct {
	source adapter.Adapter
	action alertmodel.UserAction
}

// pump repeatedly calls EndpointRequest on one adapter and forwards
// everything it yields onto the shared channel, until the adapter
// signals shutdown (nil, nil) or ctx is cancelled.
func (h *Handler) pump(ctx context.Context, a adapter.Adapter, out chan<- adapterAction) {
	for {
		action, err := a.EndpointRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.WarnContext(ctx, "endpoint_request failed", slog.String("adapter", string(a.Name())), slog.String("error", err.Error()))
			continue
		}
		if action == nil {
			return
		}
		select {
		case out <- adapterAction{source: a, action: *action}:
		case <-ctx.Done():
			return
		}
	}
}

// Handle processes one UserAction from the given source adapter: permission
// check, store mutation, retro-notification, and the response back to the
// originating channel. Exported so webhook callbacks and tests can drive a
// single action synchronously without going through Run's fan-in.
func (h *Handler) Handle(ctx context.Context, source adapter.Adapter, action alertmodel.UserAction) {
	switch action.Command.Kind {
	case alertmodel.CommandKindAck:
		h.handleAck(ctx, source, action)
	case alertmodel.CommandKindPending:
		h.respondPending(ctx, source, action.ChannelId)
	case alertmodel.CommandKindHelp:
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationHelp}, action.ChannelId, "help")
	}
}

func (h *Handler) handleAck(ctx context.Context, source adapter.Adapter, action alertmodel.UserAction) {
	outcome := h.policy.Evaluate(action)
	if outcome != permission.OutcomeAccepted {
		conf := alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationNoPermission}
		if outcome == permission.OutcomeAlertOutOfScope {
			conf = alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationAlertOutOfScope}
		}
		h.respond(ctx, source, conf, action.ChannelId, "ack")
		return
	}

	id := action.Command.Id
	ackOutcome, err := h.store.Acknowledge(ctx, id, action.User, action.ChannelId)
	if err != nil {
		h.logger.ErrorContext(ctx, "acknowledge failed", slog.String("alert_id", id.String()), slog.String("error", err.Error()))
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationInternalError}, action.ChannelId, "ack")
		return
	}

	switch ackOutcome {
	case store.AckOutcomeAcknowledged:
		h.metrics.Command("ack", "acknowledged")
		h.retroNotify(ctx, id, action.User, action.ChannelId)
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationAlertAcknowledged, Id: id}, action.ChannelId, "ack")
	case store.AckOutcomeAlreadyAcked:
		// Idempotent success: respond the same way, no further retro-broadcast.
		h.metrics.Command("ack", "already_acked")
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationAlertAcknowledged, Id: id}, action.ChannelId, "ack")
	case store.AckOutcomeNotFound:
		h.metrics.Command("ack", "not_found")
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationAlertNotFound, Id: id}, action.ChannelId, "ack")
	}
}

// retroNotify fires Acknowledged notifications at every adapter,
// fire-and-forget: failures are logged, never propagated to the
// acknowledging user.
func (h *Handler) retroNotify(ctx context.Context, id alertmodel.AlertId, ackedBy alertmodel.User, ackedOnChannel uint) {
	n := alertmodel.AcknowledgedNotification(id, ackedBy, ackedOnChannel)
	for _, a := range h.adapters {
		if err := a.Notify(ctx, n, ackedOnChannel); err != nil {
			h.logger.WarnContext(ctx, "retro-notify failed",
				slog.String("adapter", string(a.Name())), slog.String("alert_id", id.String()), slog.String("error", err.Error()))
			h.metrics.RetroNotifyFailed(string(a.Name()))
		}
	}
}

func (h *Handler) respondPending(ctx context.Context, source adapter.Adapter, channelId uint) {
	pending, err := h.store.PendingSnapshot(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "pending_snapshot failed", slog.String("error", err.Error()))
		h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationInternalError}, channelId, "pending")
		return
	}
	h.metrics.Command("pending", "ok")
	h.respond(ctx, source, alertmodel.UserConfirmation{Kind: alertmodel.ConfirmationPendingAlerts, Pending: pending}, channelId, "pending")
}

func (h *Handler) respond(ctx context.Context, source adapter.Adapter, c alertmodel.UserConfirmation, channelId uint, commandLabel string) {
	if err := source.Respond(ctx, c, channelId); err != nil {
		h.logger.WarnContext(ctx, "respond failed",
			slog.String("adapter", string(source.Name())), slog.String("command", commandLabel), slog.String("error", err.Error()))
	}
}

// Classify parses raw text into a Command, surfacing InvalidCommand the
// way adapters that don't do their own parsing can reuse.
func Classify(raw string) (*alertmodel.Command, error) {
	return command.Parse(raw)
}
