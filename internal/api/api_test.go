package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/pending"
	"github.com/BTreeMap/ReplyPipe/internal/store"
)

// mockMessagingService implements messaging.Service for handler tests.
type mockMessagingService struct {
	mu        sync.Mutex
	sent      []string
	responses chan models.Response
	outgoing  chan models.Outgoing
}

func newMockMessagingService() *mockMessagingService {
	return &mockMessagingService{
		responses: make(chan models.Response, 1),
		outgoing:  make(chan models.Outgoing, 1),
	}
}

func (m *mockMessagingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return strings.TrimPrefix(recipient, "+"), nil
}

func (m *mockMessagingService) SendMessage(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+": "+body)
	return nil
}

func (m *mockMessagingService) Start(ctx context.Context) error { return nil }
func (m *mockMessagingService) Stop() error                     { return nil }

func (m *mockMessagingService) Responses() <-chan models.Response { return m.responses }
func (m *mockMessagingService) Outgoing() <-chan models.Outgoing  { return m.outgoing }
func (m *mockMessagingService) IsConnected() bool                 { return true }

// mockFAQAppender records promoted entries.
type mockFAQAppender struct {
	mu      sync.Mutex
	entries []string
}

func (m *mockFAQAppender) AppendCustom(section, question, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, section+"|"+question+"|"+answer)
	return nil
}

type serverFixture struct {
	server   *Server
	msg      *mockMessagingService
	pendings pending.Store
	faq      *mockFAQAppender
	cfg      *config.Store
	audit    *store.InMemoryStore
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	msg := newMockMessagingService()
	cfg := config.NewStore(filepath.Join(dir, "config.json"))
	faq := &mockFAQAppender{}
	pendings := pending.NewFileStore(filepath.Join(dir, "pending.jsonl"), faq)
	audit := store.NewInMemoryStore()
	return &serverFixture{
		server:   NewServer(msg, cfg, pendings, audit),
		msg:      msg,
		pendings: pendings,
		faq:      faq,
		cfg:      cfg,
		audit:    audit,
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestStatusHandler(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ok" {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if result["connected"] != true {
		t.Errorf("expected connected=true, got %v", result["connected"])
	}
	if result["autoResponderEnabled"] != true {
		t.Errorf("expected autoResponderEnabled=true, got %v", result["autoResponderEnabled"])
	}
}

func TestSendHandler(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"to": "+391234567890", "body": "hello"}`)
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/send", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f.msg.mu.Lock()
	defer f.msg.mu.Unlock()
	if len(f.msg.sent) != 1 || f.msg.sent[0] != "391234567890: hello" {
		t.Errorf("unexpected sent messages %v", f.msg.sent)
	}
}

func TestSendHandlerRejectsInvalidJSON(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendHandlerRejectsEmptyBody(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"to": "391234567890", "body": "  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendHandlerMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/send", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAutoResponderHandlerUpdate(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"enabled": false, "faqCategory": "support"}`)
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autoresponder", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cfg := f.cfg.Snapshot()
	if cfg.AutoResponderEnabled {
		t.Error("expected auto responder disabled")
	}
	if cfg.FAQCategory != "support" {
		t.Errorf("expected category support, got %q", cfg.FAQCategory)
	}
	// Untouched fields keep their values.
	if cfg.MaxResponsesPerHour != config.Defaults().MaxResponsesPerHour {
		t.Errorf("unexpected rate limit change: %d", cfg.MaxResponsesPerHour)
	}
}

func TestAutoResponderHandlerRejectsEmptyUpdate(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/autoresponder", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPendingHandlerFiltersByStatus(t *testing.T) {
	f := newServerFixture(t)

	if _, err := f.pendings.Append("question one", "391111111111", "Anna", "general"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := f.pendings.Append("question two", "392222222222", "Bruno", "general"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := f.pendings.MarkAnswered("391111111111", "the answer", time.Now()); err != nil {
		t.Fatalf("MarkAnswered failed: %v", err)
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pending?status=pending", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	items, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 pending question, got %d", len(items))
	}

	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pending", nil))
	resp = decodeResponse(t, rec)
	items, ok = resp.Result.([]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 questions in total, got %d", len(items))
	}
}

func TestPromoteHandler(t *testing.T) {
	f := newServerFixture(t)

	id, err := f.pendings.Append("do you allow dogs?", "391111111111", "Anna", "general")
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// Not yet answered: promotion conflicts.
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pending/promote", strings.NewReader(`{"id": "`+id+`"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unanswered question, got %d", rec.Code)
	}

	if _, err := f.pendings.MarkAnswered("391111111111", "Yes, dogs are welcome", time.Now()); err != nil {
		t.Fatalf("MarkAnswered failed: %v", err)
	}

	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pending/promote", strings.NewReader(`{"id": "`+id+`"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f.faq.mu.Lock()
	entries := len(f.faq.entries)
	f.faq.mu.Unlock()
	if entries != 1 {
		t.Fatalf("expected 1 FAQ entry, got %d", entries)
	}

	// A second promotion of the same question conflicts.
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pending/promote", strings.NewReader(`{"id": "`+id+`"}`)))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for repeated promotion, got %d", rec.Code)
	}
}

func TestPromoteHandlerUnknownID(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pending/promote", strings.NewReader(`{"id": "q_missing"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuditHandler(t *testing.T) {
	f := newServerFixture(t)
	for i := 0; i < 3; i++ {
		rec := models.AuditRecord{From: "391111111111", Question: "q", Response: "a", Timestamp: time.Now()}
		if err := f.audit.AddAuditRecord(rec); err != nil {
			t.Fatalf("AddAuditRecord failed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	items, ok := resp.Result.([]interface{})
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 records, got %d", len(items))
	}
}

func TestAuditHandlerRejectsBadLimit(t *testing.T) {
	f := newServerFixture(t)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
