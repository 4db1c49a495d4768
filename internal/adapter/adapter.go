// Package adapter defines the Adapter Contract: the capability every
// concrete notification channel (chat, paging, mail) must implement so
// the scheduler and acknowledgement handler can treat them uniformly.
package adapter

import (
	"context"

	"github.com/w3f/ack-escalation/internal/alertmodel"
)

// Adapter is the abstract capability the scheduler and acknowledgement
// handler depend on. The tier passed to Notify and Respond is always the
// global escalation index; each adapter translates it via its own
// LevelManager.
type Adapter interface {
	// Name returns this adapter's tag from the closed AdapterName set.
	Name() alertmodel.AdapterName

	// Notify delivers n at the given global tier. Errors are logged by
	// the caller and never halt dispatch to other adapters.
	Notify(ctx context.Context, n alertmodel.Notification, tier uint) error

	// Respond delivers a UserConfirmation to the channel at the given
	// tier (the channel that originated the request being answered).
	Respond(ctx context.Context, c alertmodel.UserConfirmation, tier uint) error

	// EndpointRequest blocks for the next inbound UserAction, returning
	// (nil, nil) only on shutdown (the adapter's inbound queue closed).
	EndpointRequest(ctx context.Context) (*alertmodel.UserAction, error)

	// Health reports whether the adapter's outbound path is currently
	// usable, for /healthz and the circuit breaker.
	Health(ctx context.Context) error
}
