package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // full client, for event handling and send tracking
	responses chan models.Response
	outgoing  chan models.Outgoing
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		outgoing:  make(chan models.Outgoing, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient reduces a recipient to bare digits and
// validates the result has at least 6 of them.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
	if recipient != canonical {
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}
	return nil
}

// Stop stops background processing. Safe to call more than once. The event
// channels close shortly after done so in-flight handler sends can drain.
func (s *WhatsAppService) Stop() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
		close(s.outgoing)
	}()
	return nil
}

// SendMessage sends a message through the underlying client.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// Responses returns the incoming customer message channel.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// Outgoing returns the observed outbound message channel.
func (s *WhatsAppService) Outgoing() <-chan models.Outgoing {
	return s.outgoing
}

// IsConnected reports whether the underlying WhatsApp connection is live.
func (s *WhatsAppService) IsConnected() bool {
	if s.waClient == nil {
		return s.client != nil
	}
	return s.waClient.IsConnected()
}

// handleEvents registers for WhatsApp events and feeds them into the channels.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleMessageEvent(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleMessageEvent routes a message event to the inbound or outgoing stream.
// Events arriving after Stop are dropped.
func (s *WhatsAppService) handleMessageEvent(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	select {
	case <-s.done:
		slog.Debug("WhatsAppService dropping event after stop")
		return
	default:
	}

	// Extract text content; skip non-text messages (images, audio, etc.)
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	if evt.Info.IsFromMe {
		out := models.Outgoing{
			To:           evt.Info.Chat.User,
			Body:         messageText,
			Time:         evt.Info.Timestamp.Unix(),
			SentByEngine: s.waClient.WasSentByEngine(evt.Info.ID),
		}
		select {
		case s.outgoing <- out:
		case <-s.done:
			slog.Debug("WhatsAppService dropping outgoing event after stop", "to", out.To)
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("WhatsAppService outgoing channel blocked, dropping event", "to", out.To)
		}
		return
	}

	response := models.Response{
		From:     evt.Info.Sender.User,
		FromName: evt.Info.PushName,
		Body:     messageText,
		Time:     evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "from", response.From, "body_length", len(response.Body))
	select {
	case s.responses <- response:
	case <-s.done:
		slog.Debug("WhatsAppService dropping inbound message after stop", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
	}
}
