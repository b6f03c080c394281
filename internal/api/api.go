// Package api provides HTTP handlers and the main server logic for ReplyPipe.
//
// It exposes the admin endpoints for sending messages, toggling the
// auto-responder, reviewing pending questions, promoting operator answers to
// FAQ entries, and reading the audit log. Run wires all modules together and
// blocks until shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/kb"
	"github.com/BTreeMap/ReplyPipe/internal/lockfile"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/pending"
	"github.com/BTreeMap/ReplyPipe/internal/ratelimit"
	"github.com/BTreeMap/ReplyPipe/internal/responder"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultAddr is the default API server address.
	DefaultAddr = ":8080"
	// DefaultStateDir holds the config document, the pending-question log and
	// the lock file.
	DefaultStateDir = "/var/lib/replypipe"
	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// ConfigFileName is the runtime configuration document inside the state dir.
	ConfigFileName = "config.json"
	// PendingFileName is the pending-question log inside the state dir.
	PendingFileName = "pending.jsonl"
	// KnowledgeDirName is the default knowledge base directory inside the state dir.
	KnowledgeDirName = "knowledge"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	StateDir     string
	KnowledgeDir string
	UseTwilio    bool
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithStateDir overrides the state directory.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// WithKnowledgeDir overrides the knowledge base directory.
func WithKnowledgeDir(dir string) Option {
	return func(o *Opts) {
		o.KnowledgeDir = dir
	}
}

// WithTwilioChannel selects the Twilio WhatsApp Business API channel instead
// of the device-paired WhatsApp client. Credentials come from the TWILIO_*
// environment variables.
func WithTwilioChannel() Option {
	return func(o *Opts) {
		o.UseTwilio = true
	}
}

// Server holds the dependencies the HTTP handlers need.
type Server struct {
	msgService messaging.Service
	cfg        *config.Store
	pendings   pending.Store
	audit      store.AuditStore
}

// NewServer creates a Server with the given dependencies.
func NewServer(msgService messaging.Service, cfg *config.Store, pendings pending.Store, audit store.AuditStore) *Server {
	return &Server{
		msgService: msgService,
		cfg:        cfg,
		pendings:   pendings,
		audit:      audit,
	}
}

// Handler builds the admin API route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/autoresponder", s.autoResponderHandler)
	mux.HandleFunc("/pending", s.pendingHandler)
	mux.HandleFunc("/pending/promote", s.promoteHandler)
	mux.HandleFunc("/audit", s.auditHandler)
	mux.HandleFunc("/webhook/twilio", s.twilioWebhookHandler)
	return mux
}

// Run wires every module together and blocks until SIGINT or SIGTERM. One
// process owns the state directory at a time; a second instance fails fast on
// the lock file.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	opts := Opts{Addr: DefaultAddr, StateDir: DefaultStateDir}
	for _, opt := range apiOpts {
		opt(&opts)
	}
	if opts.KnowledgeDir == "" {
		opts.KnowledgeDir = filepath.Join(opts.StateDir, KnowledgeDirName)
	}

	lock, err := lockfile.AcquireLock(opts.StateDir)
	if err != nil {
		return fmt.Errorf("failed to acquire state directory lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Warn("Server failed to release lock file", "error", releaseErr)
		}
	}()

	auditStore, err := buildAuditStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize audit store: %w", err)
	}
	defer auditStore.Close()

	msgService, err := buildMessagingService(opts, waOpts)
	if err != nil {
		return err
	}

	cfgStore := config.NewStore(filepath.Join(opts.StateDir, ConfigFileName))
	loader := kb.NewLoader(opts.KnowledgeDir)
	pendingStore := pending.NewFileStore(filepath.Join(opts.StateDir, PendingFileName), loader)

	engineOpts := []responder.Option{}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("Server completion backend unavailable, using keyword fallback", "error", err)
	} else {
		engineOpts = append(engineOpts, responder.WithCompleter(gaClient))
	}
	engine := responder.NewEngine(cfgStore, loader, ratelimit.NewLimiter(), pendingStore, auditStore, msgService, engineOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	engine.Start(ctx)

	server := NewServer(msgService, cfgStore, pendingStore, auditStore)
	httpServer := &http.Server{Addr: opts.Addr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", opts.Addr)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		stop()
		engine.Wait()
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server HTTP shutdown failed", "error", err)
	}

	engine.Wait()
	if err := msgService.Stop(); err != nil {
		slog.Warn("Server failed to stop messaging service", "error", err)
	}
	slog.Info("Server stopped")
	return nil
}

// buildMessagingService builds the configured channel. The device-paired
// WhatsApp client is the default; Twilio covers deployments on the WhatsApp
// Business API.
func buildMessagingService(opts Opts, waOpts []whatsapp.Option) (messaging.Service, error) {
	if opts.UseTwilio {
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(twClient), nil
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(waClient), nil
}

// buildAuditStore selects the storage backend from the configured DSN,
// defaulting to in-memory when nothing is configured.
func buildAuditStore(storeOpts []store.Option) (store.AuditStore, error) {
	var o store.Opts
	for _, opt := range storeOpts {
		opt(&o)
	}
	if o.DSN == "" {
		slog.Info("Server no database DSN configured, using in-memory audit store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(o.DSN) == "postgres" {
		return store.NewPostgresStore(storeOpts...)
	}
	return store.NewSQLiteStore(storeOpts...)
}
