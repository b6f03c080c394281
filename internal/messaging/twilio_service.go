package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using the Twilio API.
// Inbound and outbound observations arrive through webhook ingestion
// (IngestInbound/IngestOutgoing) rather than a live socket.
type TwilioService struct {
	client    twiliowhatsapp.Sender
	responses chan models.Response
	outgoing  chan models.Outgoing
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService wrapping the given sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		outgoing:  make(chan models.Outgoing, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits and
// validates the result has at least 6 of them.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// Start is a no-op: Twilio has no live event socket.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
		close(s.outgoing)
	}()
	return nil
}

// SendMessage sends a message via Twilio and mirrors it onto the outgoing
// stream marked as engine-sent.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("TwilioService SendMessage error", "error", err, "to", to)
		return err
	}
	s.emitOutgoing(models.Outgoing{To: to, Body: body, Time: time.Now().Unix(), SentByEngine: true})
	return nil
}

// IngestInbound feeds a webhook-delivered customer message into the inbound stream.
func (s *TwilioService) IngestInbound(resp models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.responses <- resp:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", resp.From)
	}
}

// IngestOutgoing feeds a webhook-observed operator message into the outgoing stream.
func (s *TwilioService) IngestOutgoing(out models.Outgoing) {
	s.emitOutgoing(out)
}

func (s *TwilioService) emitOutgoing(out models.Outgoing) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}
	select {
	case s.outgoing <- out:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService outgoing channel blocked, dropping event", "to", out.To)
	}
}

// Responses returns the incoming customer message channel.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// Outgoing returns the observed outbound message channel.
func (s *TwilioService) Outgoing() <-chan models.Outgoing {
	return s.outgoing
}

// IsConnected reports whether the service is accepting traffic.
func (s *TwilioService) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}
