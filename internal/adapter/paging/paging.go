// Package paging implements the paging notification adapter: levels are
// PagerDuty-style (integration key, severity) pairs, acknowledgement is
// detected by polling the upstream log-entries feed rather than by a
// callback, and the adapter itself never responds to confirmations (the
// upstream console has no room for them).
package paging

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/w3f/ack-escalation/internal/adapter/circuitbreaker"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/cache"
	"github.com/w3f/ack-escalation/internal/levels"
	"github.com/w3f/ack-escalation/internal/notify"
	"github.com/w3f/ack-escalation/internal/resilience"
)

// Level addresses one PagerDuty service/severity pair.
type Level struct {
	IntegrationKey  string
	PayloadSeverity string
}

// Config tunes adapter-wide behaviour independent of the per-level routing.
type Config struct {
	APIKey           string
	PayloadSource    string
	OnlyOnEscalation bool // suppress delivery at tier 0; PagerDuty's own escalation policy handles it
	PollInterval     time.Duration
	DedupTTL         time.Duration
}

// DefaultConfig returns the upstream's own polling cadence and dedup
// window.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second, DedupTTL: time.Hour}
}

// OutboundClient is the PagerDuty Events API v2 surface the adapter needs.
type OutboundClient interface {
	TriggerEvent(ctx context.Context, routingKey, dedupKey, summary, source, severity string) error
	AcknowledgeEvent(ctx context.Context, routingKey, dedupKey string) error
	Health(ctx context.Context) error
}

// LogEntriesClient polls the upstream log-entries feed for resolved
// incidents, returning each entry's incident and agent summaries; the
// adapter still needs to parse the AlertId out of the incident summary.
type LogEntriesClient interface {
	ResolvedEntries(ctx context.Context) ([]ResolvedEntry, error)
}

// ResolvedEntry is one upstream log entry reporting an acknowledgement,
// before the embedded alert id has been extracted from its summary.
type ResolvedEntry struct {
	IncidentSummary string
	AgentSummary    string
}

// Adapter is the paging concrete adapter.
type Adapter struct {
	levels     levels.Manager[Level]
	config     Config
	client     OutboundClient
	logEntries LogEntriesClient
	dedup      cache.DedupCache
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
	actions    chan alertmodel.UserAction
}

// New builds a paging adapter over an ordered (integration key, severity)
// list, lowest tier first.
func New(levelList []Level, config Config, client OutboundClient, logEntries LogEntriesClient, dedup cache.DedupCache, logger *slog.Logger) *Adapter {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.DedupTTL == 0 {
		config.DedupTTL = DefaultConfig().DedupTTL
	}
	return &Adapter{
		levels:     levels.New(levelList),
		config:     config,
		client:     client,
		logEntries: logEntries,
		dedup:      dedup,
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig(), "paging", nil),
		logger:     logger.With("component", "paging_adapter"),
		actions:    make(chan alertmodel.UserAction, 64),
	}
}

func (a *Adapter) Name() alertmodel.AdapterName { return alertmodel.AdapterPaging }

// Notify triggers or acknowledges a PagerDuty event. Tier 0 is suppressed
// when OnlyOnEscalation is set, since the upstream escalation policy
// already owns first-tier delivery.
func (a *Adapter) Notify(ctx context.Context, n alertmodel.Notification, tier uint) error {
	if !a.breaker.CanAttempt() {
		return fmt.Errorf("%w: paging circuit open", alertmodel.ErrAdapterUnavailable)
	}

	var err error
	switch n.Kind {
	case alertmodel.NotificationKindAlert:
		if a.config.OnlyOnEscalation && tier == 0 {
			return nil
		}
		level := a.levels.SingleLevel(tier)
		dedupKey := dedupKeyFor(n.Context.Id)
		err = a.client.TriggerEvent(ctx, level.IntegrationKey, dedupKey, notify.PagingSummary(n.Context), a.config.PayloadSource, level.PayloadSeverity)
	case alertmodel.NotificationKindAcknowledged:
		// Acknowledgement always targets the first configured integration key.
		level := a.levels.SingleLevel(0)
		err = a.client.AcknowledgeEvent(ctx, level.IntegrationKey, dedupKeyFor(n.Id))
	default:
		return fmt.Errorf("%w: unknown notification kind", alertmodel.ErrBadUpstreamFormat)
	}

	if err != nil {
		a.breaker.RecordFailure()
	} else {
		a.breaker.RecordSuccess()
	}
	return err
}

// Respond is a no-op: PagerDuty has no channel to answer user commands in.
func (a *Adapter) Respond(ctx context.Context, c alertmodel.UserConfirmation, tier uint) error {
	return nil
}

func (a *Adapter) EndpointRequest(ctx context.Context) (*alertmodel.UserAction, error) {
	select {
	case action, ok := <-a.actions:
		if !ok {
			return nil, nil
		}
		return &action, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.client.Health(ctx)
}

// Run polls the log-entries feed until ctx is cancelled, turning newly
// observed resolutions into UserActions. Callers run this in its own
// goroutine; it closes the action channel on return.
func (a *Adapter) Run(ctx context.Context) {
	defer close(a.actions)
	ticker := time.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

func (a *Adapter) pollOnce(ctx context.Context) {
	entries, err := a.logEntries.ResolvedEntries(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to fetch log entries", slog.String("error", err.Error()))
		return
	}

	for _, entry := range entries {
		id, err := parseSummaryAlertId(entry.IncidentSummary)
		if err != nil || entry.AgentSummary == "" {
			continue
		}

		key := dedupKeyFor(id)
		seen, err := a.dedup.SeenRecently(ctx, key)
		if err != nil {
			a.logger.WarnContext(ctx, "dedup lookup failed, processing anyway", slog.String("error", err.Error()))
		} else if seen {
			continue
		}
		if err := a.dedup.MarkSeen(ctx, key, a.config.DedupTTL); err != nil {
			a.logger.WarnContext(ctx, "dedup mark failed", slog.String("error", err.Error()))
		}

		a.actions <- alertmodel.UserAction{
			User:          alertmodel.PagingUser(entry.AgentSummary),
			ChannelId:     0,
			IsLastChannel: true,
			Command:       alertmodel.AckCommand(id),
		}
	}
}

func dedupKeyFor(id alertmodel.AlertId) string {
	return "ID#" + id.String()
}

// parseSummaryAlertId extracts the trailing "ID#<n>" token from an
// incident summary, tolerant of surrounding whitespace and of the prefix
// being missing entirely (in which case the remainder must still parse
// as an id).
func parseSummaryAlertId(summary string) (alertmodel.AlertId, error) {
	parts := strings.Split(summary, "-")
	last := strings.TrimSpace(parts[len(parts)-1])
	last = strings.TrimPrefix(last, "ID#")
	return alertmodel.ParseAlertId(last)
}

// HTTPOutboundClient implements OutboundClient against the real PagerDuty
// Events API v2 endpoint.
type HTTPOutboundClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewHTTPOutboundClient builds a client rate limited to PagerDuty's
// documented 120 requests/minute per integration.
func NewHTTPOutboundClient(apiKey string, logger *slog.Logger) *HTTPOutboundClient {
	return &HTTPOutboundClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		baseURL:     "https://events.pagerduty.com/v2/enqueue",
		apiKey:      apiKey,
		rateLimiter: rate.NewLimiter(rate.Limit(120.0/60.0), 10),
		logger:      logger.With("component", "pagerduty_client"),
	}
}

type eventPayload struct {
	Summary  string `json:"summary"`
	Source   string `json:"source"`
	Severity string `json:"severity"`
}

type eventRequest struct {
	RoutingKey  string        `json:"routing_key"`
	EventAction string        `json:"event_action"`
	DedupKey    string        `json:"dedup_key"`
	Payload     *eventPayload `json:"payload,omitempty"`
}

func (c *HTTPOutboundClient) TriggerEvent(ctx context.Context, routingKey, dedupKey, summary, source, severity string) error {
	return c.send(ctx, eventRequest{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		DedupKey:    dedupKey,
		Payload:     &eventPayload{Summary: summary, Source: source, Severity: severity},
	})
}

func (c *HTTPOutboundClient) AcknowledgeEvent(ctx context.Context, routingKey, dedupKey string) error {
	return c.send(ctx, eventRequest{RoutingKey: routingKey, EventAction: "acknowledge", DedupKey: dedupKey})
}

func (c *HTTPOutboundClient) Health(ctx context.Context) error {
	return c.send(ctx, eventRequest{
		RoutingKey:  "health-check",
		EventAction: "trigger",
		DedupKey:    "health-check",
		Payload:     &eventPayload{Summary: "health check", Source: "ack-escalation", Severity: "info"},
	})
}

type logEntry struct {
	Type  string `json:"type"`
	Agent struct {
		Summary string `json:"summary"`
	} `json:"agent"`
	Incident struct {
		Summary string `json:"summary"`
	} `json:"incident"`
}

type logEntriesResponse struct {
	LogEntries []logEntry `json:"log_entries"`
}

// ResolvedEntries polls PagerDuty's REST API for log entries describing
// resolved incidents, implementing LogEntriesClient over the same
// bearer token used for the Events API.
func (c *HTTPOutboundClient) ResolvedEntries(ctx context.Context) ([]ResolvedEntry, error) {
	url := "https://api.pagerduty.com/log_entries?is_overview=true&time_zone=UTC"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token token="+c.apiKey)
	httpReq.Header.Set("Accept", "application/vnd.pagerduty+json;version=2")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("pagerduty log entries api returned status %d", resp.StatusCode)
	}

	var parsed logEntriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode log entries: %w", err)
	}

	entries := make([]ResolvedEntry, 0, len(parsed.LogEntries))
	for _, e := range parsed.LogEntries {
		if !strings.Contains(e.Type, "resolve_log_entry") {
			continue
		}
		entries = append(entries, ResolvedEntry{IncidentSummary: e.Incident.Summary, AgentSummary: e.Agent.Summary})
	}
	return entries, nil
}

// send POSTs req to the Events API, retrying through resilience.WithRetry
// on network errors and on the statuses PagerDuty documents as transient
// (429 and 5xx); any other non-2xx response is permanent.
func (c *HTTPOutboundClient) send(ctx context.Context, req eventRequest) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	policy := resilience.DefaultRetryPolicy()
	policy.ErrorChecker = resilience.RetryableStatusCodes(
		http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout,
	)
	policy.Logger = c.logger

	return resilience.WithRetry(ctx, policy, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Token token="+c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		if resp.StatusCode == http.StatusAccepted || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
			return nil
		}
		return resilience.NewStatusCodeError(resp.StatusCode, fmt.Sprintf("pagerduty events api returned status %d", resp.StatusCode))
	})
}
