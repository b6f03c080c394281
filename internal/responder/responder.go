// Package responder implements the auto-responder decision engine.
//
// For each inbound message it checks the rate limit, rebuilds and scores the
// knowledge base, and either answers through the completion backend, falls
// back to the top entry's answer, or escalates to a human operator. A second
// consumer watches outbound traffic from the business account to mark pending
// questions answered.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/kb"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/pending"
	"github.com/BTreeMap/ReplyPipe/internal/ratelimit"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// ConfidenceThreshold separates auto-responding from escalation. The scorer's
// formula is tuned against this exact value.
const ConfidenceThreshold = 0.5

// Fixed customer-facing messages. The end customer never sees a raw error.
const (
	// EscalationMessage is sent when confidence is below the threshold.
	EscalationMessage = "I don't have enough information to answer that yet, so I've passed your question to our team. A colleague will follow up with you shortly."
	// TechnicalDifficultyMessage is sent when the completion backend fails.
	TechnicalDifficultyMessage = "We're having a technical difficulty answering right now. A colleague will follow up with you shortly."
	// KeywordFallbackClosing is appended to the top entry's answer when no
	// completion backend is configured.
	KeywordFallbackClosing = "If you need anything else, just reply here and we'll be happy to help."
)

// KnowledgeBase rebuilds the merged FAQ set for a category.
type KnowledgeBase interface {
	Load(category string) []models.FaqEntry
}

// Completer generates a grounded answer from a system instruction and the
// customer's question. A nil Completer degrades the engine to the keyword
// fallback path.
type Completer interface {
	GenerateAnswer(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Engine is the response orchestrator.
type Engine struct {
	cfg       *config.Store
	knowledge KnowledgeBase
	limiter   *ratelimit.Limiter
	pendings  pending.Store
	audit     store.AuditStore
	msg       messaging.Service
	completer Completer

	sleep func(time.Duration)
	wg    sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithCompleter wires the completion backend. Without it the engine replies
// with the top entry's answer directly.
func WithCompleter(c Completer) Option {
	return func(e *Engine) {
		e.completer = c
	}
}

// WithSleep overrides the response-delay sleep, for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// NewEngine wires the orchestrator's collaborators together.
func NewEngine(cfg *config.Store, knowledge KnowledgeBase, limiter *ratelimit.Limiter, pendings pending.Store, audit store.AuditStore, msg messaging.Service, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		knowledge: knowledge,
		limiter:   limiter,
		pendings:  pendings,
		audit:     audit,
		msg:       msg,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the inbound dispatch loop and the operator-reply matcher.
// Each inbound message is processed as its own task so one sender's response
// delay never serializes another sender's messages.
func (e *Engine) Start(ctx context.Context) {
	slog.Info("Engine starting", "completion_backend", e.completer != nil)
	e.wg.Add(2)
	go e.consumeInbound(ctx)
	go e.consumeOutgoing(ctx)
}

// Wait blocks until both consumers and all in-flight message tasks finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) consumeInbound(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case resp, ok := <-e.msg.Responses():
			if !ok {
				slog.Debug("Engine responses channel closed")
				return
			}
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.HandleInbound(ctx, resp)
			}()
		case <-ctx.Done():
			slog.Debug("Engine inbound consumer stopping")
			return
		}
	}
}

func (e *Engine) consumeOutgoing(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case out, ok := <-e.msg.Outgoing():
			if !ok {
				slog.Debug("Engine outgoing channel closed")
				return
			}
			e.HandleOutgoing(ctx, out)
		case <-ctx.Done():
			slog.Debug("Engine outgoing consumer stopping")
			return
		}
	}
}

// HandleInbound runs one inbound message through the decision state machine:
// rate check, scoring, routing, delivery, audit. It returns the decision for
// observability. Side effects are at most one pending write, one outbound
// message, and one audit append.
func (e *Engine) HandleInbound(ctx context.Context, resp models.Response) models.Decision {
	cfg := e.cfg.Snapshot()
	decision := e.decide(ctx, cfg, resp)

	if !decision.Dropped && decision.Reply != "" {
		if delay := time.Duration(cfg.ResponseDelayMs) * time.Millisecond; delay > 0 {
			e.sleep(delay)
		}
		if err := e.msg.SendMessage(ctx, resp.From, decision.Reply); err != nil {
			// The audit record still reflects what the engine attempted to send.
			slog.Error("Engine failed to deliver reply", "error", err, "to", resp.From)
		}
	}

	rec := models.AuditRecord{
		From:             resp.From,
		Question:         resp.Body,
		Response:         decision.Reply,
		Confidence:       decision.Confidence,
		PassedToOperator: decision.PassedToOperator,
		Timestamp:        time.Now().UTC(),
	}
	if err := e.audit.AddAuditRecord(rec); err != nil {
		slog.Error("Engine failed to append audit record", "error", err, "from", resp.From)
	}

	slog.Info("Engine processed message",
		"from", resp.From,
		"confidence", decision.Confidence,
		"passed_to_operator", decision.PassedToOperator,
		"dropped", decision.Dropped)
	return decision
}

// decide routes the message. No lock is held while the completion backend call
// is in flight.
func (e *Engine) decide(ctx context.Context, cfg config.Config, resp models.Response) models.Decision {
	if !cfg.AutoResponderEnabled {
		slog.Debug("Engine auto-responder disabled, dropping", "from", resp.From)
		return models.Decision{Dropped: true}
	}
	if !e.limiter.Allow(resp.From, cfg.MaxResponsesPerHour) {
		slog.Info("Engine sender rate limited, dropping", "from", resp.From)
		return models.Decision{Dropped: true}
	}

	entries := e.knowledge.Load(cfg.FAQCategory)
	ranked, confidence := kb.Score(resp.Body, entries, kb.DefaultTopK)

	if e.completer == nil {
		// Keyword fallback: no completion credential configured.
		if confidence >= ConfidenceThreshold {
			reply := ranked[0].Entry.Answer + "\n\n" + KeywordFallbackClosing
			return models.Decision{Reply: reply, Confidence: confidence}
		}
		return e.escalate(cfg, resp, confidence)
	}

	if confidence < ConfidenceThreshold {
		return e.escalate(cfg, resp, confidence)
	}

	answer, err := e.completer.GenerateAnswer(ctx, buildSystemPrompt(cfg.BusinessName, ranked), resp.Body)
	if err != nil {
		slog.Error("Engine completion backend failed", "error", err, "from", resp.From)
		return models.Decision{
			Reply:            TechnicalDifficultyMessage,
			Confidence:       0,
			PassedToOperator: true,
		}
	}
	return models.Decision{Reply: answer, Confidence: confidence}
}

// escalate records the question for operator review and composes the fixed
// escalation reply.
func (e *Engine) escalate(cfg config.Config, resp models.Response, confidence float64) models.Decision {
	id, err := e.pendings.Append(resp.Body, resp.From, resp.FromName, cfg.FAQCategory)
	if err != nil {
		slog.Error("Engine failed to record pending question", "error", err, "from", resp.From)
	} else {
		slog.Info("Engine escalated question", "id", id, "from", resp.From, "confidence", confidence)
	}
	return models.Decision{
		Reply:            EscalationMessage,
		Confidence:       confidence,
		PassedToOperator: true,
	}
}

// HandleOutgoing matches an observed operator message against pending
// questions for that contact. Engine-sent messages are skipped so the fixed
// escalation reply never answers its own question; among multiple pending
// records for a contact the earliest timestamp wins.
func (e *Engine) HandleOutgoing(ctx context.Context, out models.Outgoing) {
	if out.SentByEngine {
		return
	}
	matched, err := e.pendings.MarkAnswered(out.To, out.Body, time.Unix(out.Time, 0))
	if err != nil {
		slog.Error("Engine failed to match operator reply", "error", err, "to", out.To)
		return
	}
	if matched {
		slog.Info("Engine matched operator reply to pending question", "to", out.To)
	}
}

// buildSystemPrompt assembles the fixed persona instruction plus the grounding
// context from the top-ranked entries, in rank order.
func buildSystemPrompt(businessName string, ranked []kb.ScoredEntry) string {
	if businessName == "" {
		businessName = "the business"
	}

	var b strings.Builder
	for _, se := range ranked {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", se.Entry.Question, se.Entry.Answer)
	}

	return fmt.Sprintf(
		"You are the customer assistant for %s. Answer the customer's question using only the information in the context below, in at most 2-3 sentences, in the same language as the question. If the context does not cover the question, say a colleague will follow up.\n\nContext:\n%s",
		businessName, b.String())
}
