// Package messaging provides the pluggable message channel abstraction.
package messaging

import (
	"context"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and exposes two event streams: inbound customer
// messages and outbound messages observed on the business account.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each service implements its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming customer messages.
	Responses() <-chan models.Response

	// Outgoing returns a channel of outbound messages observed on the business
	// account, including those a human operator sends from a paired device.
	Outgoing() <-chan models.Outgoing

	// IsConnected reports whether the channel is currently usable.
	IsConnected() bool
}
