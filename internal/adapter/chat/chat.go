// Package chat implements the chat notification adapter: levels are chat
// room identifiers, outbound delivery is an HTTP POST to a per-room
// incoming-webhook URL, and inbound commands arrive as parsed UserActions
// off a transport the caller supplies.
package chat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/w3f/ack-escalation/internal/adapter/circuitbreaker"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/command"
	"github.com/w3f/ack-escalation/internal/levels"
	"github.com/w3f/ack-escalation/internal/notify"
	"github.com/w3f/ack-escalation/internal/resilience"
)

// RoomId addresses one chat room/channel.
type RoomId = string

// OutboundClient posts text to a chat room and checks that room's
// reachability. HTTPOutboundClient is the production implementation;
// tests substitute a fake.
type OutboundClient interface {
	Post(ctx context.Context, room RoomId, text string) error
	Health(ctx context.Context, room RoomId) error
}

// InboundTransport delivers parsed user actions as they arrive from the
// chat platform (slash commands, message replies, etc). Push is called
// by Ingest once a raw inbound message has been recognised as a command
// from a whitelisted room.
type InboundTransport interface {
	Actions() <-chan alertmodel.UserAction
	Push(alertmodel.UserAction)
	Close() error
}

// Adapter is the chat concrete adapter.
type Adapter struct {
	rooms    []RoomId
	levels   levels.Manager[RoomId]
	client   OutboundClient
	inbound  InboundTransport
	breakers map[RoomId]*circuitbreaker.CircuitBreaker
	logger   *slog.Logger
}

// New builds a chat adapter over an ordered room list, lowest tier first.
func New(rooms []RoomId, client OutboundClient, inbound InboundTransport, logger *slog.Logger) *Adapter {
	breakers := make(map[RoomId]*circuitbreaker.CircuitBreaker, len(rooms))
	for _, r := range rooms {
		breakers[r] = circuitbreaker.New(circuitbreaker.DefaultConfig(), "chat:"+r, nil)
	}
	cp := make([]RoomId, len(rooms))
	copy(cp, rooms)
	return &Adapter{
		rooms:    cp,
		levels:   levels.New(rooms),
		client:   client,
		inbound:  inbound,
		breakers: breakers,
		logger:   logger.With("component", "chat_adapter"),
	}
}

func (a *Adapter) Name() alertmodel.AdapterName { return alertmodel.AdapterChat }

// Notify first tells the room holding the prior notification, if tier
// escalated past it, that escalation has moved on, and then posts the
// alert body to the room addressed by tier.
func (a *Adapter) Notify(ctx context.Context, n alertmodel.Notification, tier uint) error {
	switch n.Kind {
	case alertmodel.NotificationKindAlert:
		prev, room := a.levels.LevelWithPrev(tier)
		if prev != nil && *prev != room {
			if err := a.post(ctx, *prev, notify.EscalationNotice(n.Context.Id)); err != nil {
				return err
			}
		}
		return a.post(ctx, room, notify.AlertBody(n.Context, prev != nil))
	case alertmodel.NotificationKindAcknowledged:
		body := notify.AcknowledgedBody(n.Id, n.AckedBy)
		for _, room := range a.levels.AllUpToExcluding(n.AckedOn+1, a.levels.SingleLevel(n.AckedOn)) {
			if err := a.post(ctx, room, body); err != nil {
				a.logger.WarnContext(ctx, "retro-notify failed", slog.String("room", room), slog.String("error", err.Error()))
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown notification kind", alertmodel.ErrBadUpstreamFormat)
	}
}

// Respond renders the confirmation and posts it to the room at tier.
func (a *Adapter) Respond(ctx context.Context, c alertmodel.UserConfirmation, tier uint) error {
	room := a.levels.SingleLevel(tier)
	return a.post(ctx, room, notify.ConfirmationText(c))
}

// Ingest is how the inbound chat-command HTTP callback hands a raw
// message to the adapter. Rooms outside the configured whitelist are
// silently ignored (ok=false, err=nil); text that doesn't match the
// command grammar is also silently ignored. Only a recognised command
// from a whitelisted room is pushed onto the adapter's InboundTransport.
func (a *Adapter) Ingest(room RoomId, user alertmodel.User, text string) (ok bool, err error) {
	if !a.levels.Contains(room) {
		return false, nil
	}
	cmd, err := command.Parse(text)
	if err != nil {
		return false, err
	}
	if cmd == nil {
		return false, nil
	}
	a.inbound.Push(alertmodel.UserAction{
		User:          user,
		ChannelId:     uint(a.levels.Position(room)),
		IsLastChannel: a.levels.IsLast(room),
		Command:       *cmd,
	})
	return true, nil
}

func (a *Adapter) EndpointRequest(ctx context.Context) (*alertmodel.UserAction, error) {
	select {
	case action, ok := <-a.inbound.Actions():
		if !ok {
			return nil, nil
		}
		return &action, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) Health(ctx context.Context) error {
	for _, room := range a.rooms {
		if err := a.client.Health(ctx, room); err != nil {
			return fmt.Errorf("room %s: %w", room, err)
		}
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, room RoomId, text string) error {
	cb := a.breakers[room]
	if cb != nil && !cb.CanAttempt() {
		return fmt.Errorf("%w: room %s circuit open", alertmodel.ErrAdapterUnavailable, room)
	}
	err := a.client.Post(ctx, room, text)
	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
	return err
}

// HTTPOutboundClient posts to per-room incoming-webhook URLs, rate
// limited to one message per second per room with retried delivery.
type HTTPOutboundClient struct {
	httpClient  *http.Client
	webhookURLs map[RoomId]string
	limiters    map[RoomId]*rate.Limiter
	logger      *slog.Logger
}

// NewHTTPOutboundClient builds a client over a room-to-webhook-URL map.
func NewHTTPOutboundClient(webhookURLs map[RoomId]string, logger *slog.Logger) *HTTPOutboundClient {
	limiters := make(map[RoomId]*rate.Limiter, len(webhookURLs))
	for room := range webhookURLs {
		limiters[room] = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &HTTPOutboundClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		webhookURLs: webhookURLs,
		limiters:    limiters,
		logger:      logger.With("component", "chat_http_client"),
	}
}

type chatPayload struct {
	Text string `json:"text"`
}

func (c *HTTPOutboundClient) Post(ctx context.Context, room RoomId, text string) error {
	url, ok := c.webhookURLs[room]
	if !ok {
		return fmt.Errorf("%w: no webhook configured for room %s", alertmodel.ErrConfigInvalid, room)
	}
	if limiter, ok := c.limiters[room]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	body, err := json.Marshal(chatPayload{Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.logger.DebugContext(ctx, "posting to chat room", slog.String("webhook_url", maskWebhookURL(url)))

	return c.doRequestWithRetry(ctx, url, body)
}

func (c *HTTPOutboundClient) Health(ctx context.Context, room RoomId) error {
	return c.Post(ctx, room, "Health check")
}

// doRequestWithRetry POSTs bodyBytes to url, retrying through
// resilience.WithRetry on network errors and on the 429/503 statuses chat
// webhook providers use to signal backpressure. Any other non-200 status
// is treated as permanent.
func (c *HTTPOutboundClient) doRequestWithRetry(ctx context.Context, url string, bodyBytes []byte) error {
	policy := resilience.DefaultRetryPolicy()
	policy.ErrorChecker = resilience.RetryableStatusCodes(http.StatusTooManyRequests, http.StatusServiceUnavailable)
	policy.Logger = c.logger

	return resilience.WithRetry(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
		return resilience.NewStatusCodeError(resp.StatusCode, fmt.Sprintf("chat webhook returned status %d", resp.StatusCode))
	})
}

// maskWebhookURL replaces the last path segment (the secret token) with
// "***" so webhook URLs never appear verbatim in logs.
func maskWebhookURL(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) >= 2 {
		parts[len(parts)-1] = "***"
	}
	return strings.Join(parts, "/")
}

// ChannelTransport is an in-memory InboundTransport, used by the HTTP
// command endpoint and by tests.
type ChannelTransport struct {
	ch chan alertmodel.UserAction
}

// NewChannelTransport creates a transport with the given buffer size.
func NewChannelTransport(buffer int) *ChannelTransport {
	return &ChannelTransport{ch: make(chan alertmodel.UserAction, buffer)}
}

func (t *ChannelTransport) Actions() <-chan alertmodel.UserAction { return t.ch }

// Push enqueues an inbound action; it blocks if the buffer is full.
func (t *ChannelTransport) Push(a alertmodel.UserAction) { t.ch <- a }

func (t *ChannelTransport) Close() error {
	close(t.ch)
	return nil
}
