// Package mail implements the mail notification adapter: levels are
// mailbox addresses, outbound delivery sends a plain-text message via an
// OutboundClient (SMTP), and inbound acknowledgement commands are
// discovered by periodically polling an inbox through an InboundClient
// and scanning each message body for the "ack <id>" grammar.
//
// The upstream reference implementation disabled this adapter entirely
// and its header-parsing comment ("retrieve sender from 'To' field") is
// self-contradictory — attributing an acknowledgement to the message's
// recipient rather than its author cannot be right. This adapter
// attributes the acknowledging user to the message's From header.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/w3f/ack-escalation/internal/adapter/circuitbreaker"
	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/cache"
	"github.com/w3f/ack-escalation/internal/levels"
	"github.com/w3f/ack-escalation/internal/notify"
)

// Address identifies one mailbox, used both as a notification level and
// as the polled inbox's own address.
type Address = string

// Config tunes polling cadence and the import window, mirroring the
// upstream Gmail client's "newer_than:<n>d" search query.
type Config struct {
	PollInterval time.Duration
	MaxImportAge time.Duration
	DedupTTL     time.Duration
}

// DefaultConfig polls every 5s (matching the paging adapter) and
// imports messages from the last 3 days.
func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second, MaxImportAge: 72 * time.Hour, DedupTTL: time.Hour}
}

// OutboundClient sends a plain-text email. SMTPOutboundClient is the
// production implementation; tests substitute a fake.
type OutboundClient interface {
	Send(ctx context.Context, to Address, subject, body string) error
	Health(ctx context.Context) error
}

// Message is one inbound email as observed by InboundClient, before its
// body has been scanned for a command.
type Message struct {
	ID   string
	From string // raw From header, RFC 5322 encoded
	Body string
}

// InboundClient polls the configured mailbox for new messages. The
// concrete mail API client (Gmail, IMAP, etc) is an external
// collaborator; operators supply their own implementation.
type InboundClient interface {
	Poll(ctx context.Context, newerThan time.Duration) ([]Message, error)
}

// NoopInboundClient never reports any message, letting the adapter send
// outbound notifications while acknowledgement polling stays disabled
// until an operator wires a real InboundClient.
type NoopInboundClient struct{}

func (NoopInboundClient) Poll(context.Context, time.Duration) ([]Message, error) { return nil, nil }

// Adapter is the mail concrete adapter.
type Adapter struct {
	levels  levels.Manager[Address]
	config  Config
	client  OutboundClient
	inbound InboundClient
	dedup   cache.DedupCache
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
	actions chan alertmodel.UserAction
}

// New builds a mail adapter over an ordered address list, lowest tier
// first.
func New(addresses []Address, config Config, client OutboundClient, inbound InboundClient, dedup cache.DedupCache, logger *slog.Logger) *Adapter {
	if config.PollInterval == 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.MaxImportAge == 0 {
		config.MaxImportAge = DefaultConfig().MaxImportAge
	}
	if config.DedupTTL == 0 {
		config.DedupTTL = DefaultConfig().DedupTTL
	}
	return &Adapter{
		levels:  levels.New(addresses),
		config:  config,
		client:  client,
		inbound: inbound,
		dedup:   dedup,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig(), "mail", nil),
		logger:  logger.With("component", "mail_adapter"),
		actions: make(chan alertmodel.UserAction, 64),
	}
}

func (a *Adapter) Name() alertmodel.AdapterName { return alertmodel.AdapterMail }

// Notify emails the alert body to the address at tier, escalating the
// previous address with a notice first, exactly like the chat adapter.
// If the notice fails to send, the alert body is not sent.
func (a *Adapter) Notify(ctx context.Context, n alertmodel.Notification, tier uint) error {
	if !a.breaker.CanAttempt() {
		return fmt.Errorf("%w: mail circuit open", alertmodel.ErrAdapterUnavailable)
	}

	var err error
	switch n.Kind {
	case alertmodel.NotificationKindAlert:
		prev, addr := a.levels.LevelWithPrev(tier)
		if prev != nil && *prev != addr {
			err = a.send(ctx, *prev, alertSubject(n.Context), notify.EscalationNotice(n.Context.Id))
		}
		if err == nil {
			err = a.send(ctx, addr, alertSubject(n.Context), notify.AlertBody(n.Context, prev != nil))
		}
	case alertmodel.NotificationKindAcknowledged:
		body := notify.AcknowledgedBody(n.Id, n.AckedBy)
		for _, addr := range a.levels.AllUpToExcluding(n.AckedOn+1, a.levels.SingleLevel(n.AckedOn)) {
			if sendErr := a.send(ctx, addr, fmt.Sprintf("Alert %s acknowledged", n.Id.String()), body); sendErr != nil {
				a.logger.WarnContext(ctx, "retro-notify failed", slog.String("address", addr), slog.String("error", sendErr.Error()))
			}
		}
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

// Respond emails the confirmation to the address at tier.
func (a *Adapter) Respond(ctx context.Context, c alertmodel.UserConfirmation, tier uint) error {
	addr := a.levels.SingleLevel(tier)
	return a.send(ctx, addr, "Alert escalation update", notify.ConfirmationText(c))
}

func (a *Adapter) send(ctx context.Context, addr Address, subject, body string) error {
	return a.client.Send(ctx, addr, subject, body)
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

func alertSubject(ctx alertmodel.AlertContext) string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(ctx.Alert.Labels.Severity), ctx.Alert.Labels.AlertName)
}

// Run polls the inbox until ctx is cancelled, turning newly observed
// "ack <id>" messages into UserActions. Callers run this in its own
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
	messages, err := a.inbound.Poll(ctx, a.config.MaxImportAge)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to poll inbox", slog.String("error", err.Error()))
		return
	}

	for _, msg := range messages {
		id, ok := parseAckBody(msg.Body)
		if !ok {
			continue
		}

		seen, err := a.dedup.SeenRecently(ctx, msg.ID)
		if err != nil {
			a.logger.WarnContext(ctx, "dedup lookup failed, processing anyway", slog.String("error", err.Error()))
		} else if seen {
			continue
		}
		if err := a.dedup.MarkSeen(ctx, msg.ID, a.config.DedupTTL); err != nil {
			a.logger.WarnContext(ctx, "dedup mark failed", slog.String("error", err.Error()))
		}

		from := senderAddress(msg.From)
		if from == "" {
			a.logger.WarnContext(ctx, "ack message has unparseable From header, dropping", slog.String("message_id", msg.ID))
			continue
		}

		a.actions <- alertmodel.UserAction{
			User:          alertmodel.MailUser(from),
			ChannelId:     0,
			IsLastChannel: true,
			Command:       alertmodel.AckCommand(id),
		}
	}
}

// parseAckBody lower-cases the body and, if it contains "ack", parses
// the id out of the fragment immediately following the first
// occurrence, per the upstream "split on ack, take the second piece"
// rule.
func parseAckBody(body string) (alertmodel.AlertId, bool) {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "ack")
	if idx < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(lower[idx+len("ack"):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 0, false
	}
	id, err := alertmodel.ParseAlertId(fields[0])
	if err != nil {
		return 0, false
	}
	return id, true
}

// senderAddress extracts the mailbox address from a raw RFC 5322 From
// header, returning "" if it doesn't parse.
func senderAddress(fromHeader string) string {
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil {
		return ""
	}
	return addr.Address
}

// SMTPOutboundClient implements OutboundClient over a standard SMTP
// relay.
type SMTPOutboundClient struct {
	host   string
	port   int
	from   string
	auth   smtp.Auth
	logger *slog.Logger
}

// NewSMTPOutboundClient builds a client authenticating with PLAIN auth
// against host:port.
func NewSMTPOutboundClient(host string, port int, username, password, from string, logger *slog.Logger) *SMTPOutboundClient {
	return &SMTPOutboundClient{
		host:   host,
		port:   port,
		from:   from,
		auth:   smtp.PlainAuth("", username, password, host),
		logger: logger.With("component", "smtp_client"),
	}
}

func (c *SMTPOutboundClient) Send(ctx context.Context, to Address, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", c.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, c.auth, c.from, []string{to}, []byte(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp: send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SMTPOutboundClient) Health(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp: dial: %w", err)
	}
	defer client.Close()
	return nil
}
