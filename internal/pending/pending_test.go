package pending

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// mockFAQ records promoted entries in memory.
type mockFAQ struct {
	sections  []string
	questions []string
	answers   []string
	err       error
}

func (m *mockFAQ) AppendCustom(section, question, answer string) error {
	if m.err != nil {
		return m.err
	}
	m.sections = append(m.sections, section)
	m.questions = append(m.questions, question)
	m.answers = append(m.answers, answer)
	return nil
}

func newTestStore(t *testing.T) (*FileStore, *mockFAQ) {
	t.Helper()
	faq := &mockFAQ{}
	return NewFileStore(filepath.Join(t.TempDir(), "pending.jsonl"), faq), faq
}

func TestAppendThenListPending(t *testing.T) {
	s, _ := newTestStore(t)

	id, err := s.Append("avete posto auto?", "+391234", "Mario", "restaurant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.ListPending()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 pending record, got %d", len(got))
	}
	q := got[0]
	if q.ID != id || q.Status != models.PendingStatusPending {
		t.Errorf("unexpected record %+v", q)
	}
	if q.OperatorResponse != nil || q.ResponseTimestamp != nil {
		t.Errorf("fresh record must have nil response fields: %+v", q)
	}
}

func TestIDsAreUniqueAndMonotonic(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewFileStore(filepath.Join(t.TempDir(), "pending.jsonl"), &mockFAQ{},
		WithClock(func() time.Time { return fixed }))

	var prev string
	for i := 0; i < 5; i++ {
		id, err := s.Append("q", "+39", "", "general")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id <= prev {
			t.Errorf("expected monotonically increasing IDs, got %q after %q", id, prev)
		}
		prev = id
	}
}

func TestUpdateLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	id, _ := s.Append("domanda", "+391234", "", "general")

	resp := "la risposta"
	answered := models.PendingStatusAnswered
	now := time.Now().UTC()
	if err := s.Update(id, Patch{Status: &answered, OperatorResponse: &resp, ResponseTimestamp: &now}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stillPending, _ := s.ListPending()
	if len(stillPending) != 0 {
		t.Errorf("answered record must not appear in pending list, got %d", len(stillPending))
	}

	all, _ := s.List()
	if len(all) != 1 {
		t.Fatalf("record must never be physically deleted, got %d", len(all))
	}
	if all[0].OperatorResponse == nil || *all[0].OperatorResponse != resp {
		t.Errorf("operator response not recorded: %+v", all[0])
	}

	// Backward transition is rejected.
	pendingAgain := models.PendingStatusPending
	if err := s.Update(id, Patch{Status: &pendingAgain}); !errors.Is(err, models.ErrBackwardTransition) {
		t.Errorf("expected backward-transition error, got %v", err)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	s.Append("domanda", "+391234", "", "general")

	answered := models.PendingStatusAnswered
	if err := s.Update("q_0", Patch{Status: &answered}); !errors.Is(err, models.ErrPendingNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestPromoteToFAQ(t *testing.T) {
	s, faq := newTestStore(t)
	id, _ := s.Append("avete posto auto?", "+391234", "", "restaurant")

	if _, err := s.MarkAnswered("+391234", "sì, in cortile", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.PromoteToFAQ(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(faq.questions) != 1 || faq.questions[0] != "avete posto auto?" || faq.answers[0] != "sì, in cortile" {
		t.Errorf("promotion did not reach the knowledge base: %+v", faq)
	}
	if faq.sections[0] != PromoteSection {
		t.Errorf("expected section %q, got %q", PromoteSection, faq.sections[0])
	}

	all, _ := s.List()
	if all[0].Status != models.PendingStatusSavedAsFAQ {
		t.Errorf("expected saved_as_faq status, got %s", all[0].Status)
	}

	// A second promotion must be rejected: the lifecycle only moves forward.
	if err := s.PromoteToFAQ(id); err == nil {
		t.Error("expected error promoting an already-promoted record")
	}
}

func TestPromoteWithoutOperatorResponse(t *testing.T) {
	s, faq := newTestStore(t)
	id, _ := s.Append("domanda", "+391234", "", "general")

	if err := s.PromoteToFAQ(id); !errors.Is(err, models.ErrNoOperatorResponse) {
		t.Fatalf("expected missing-response error, got %v", err)
	}
	if len(faq.questions) != 0 {
		t.Error("rejected promotion must not mutate the knowledge base")
	}
	all, _ := s.List()
	if all[0].Status != models.PendingStatusPending {
		t.Error("rejected promotion must not mutate the record")
	}
}

func TestPromoteUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.PromoteToFAQ("q_404"); !errors.Is(err, models.ErrPendingNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestMarkAnsweredPicksEarliestForContact(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	now := base
	s := NewFileStore(filepath.Join(t.TempDir(), "pending.jsonl"), &mockFAQ{},
		WithClock(func() time.Time { return now }))

	first, _ := s.Append("prima domanda", "+391234", "", "general")
	now = base.Add(time.Minute)
	second, _ := s.Append("seconda domanda", "+391234", "", "general")
	now = base.Add(2 * time.Minute)
	s.Append("altro contatto", "+395555", "", "general")

	matched, err := s.MarkAnswered("+391234", "risposta", time.Now())
	if err != nil || !matched {
		t.Fatalf("expected a match, got matched=%v err=%v", matched, err)
	}

	all, _ := s.List()
	byID := map[string]models.PendingQuestion{}
	for _, q := range all {
		byID[q.ID] = q
	}
	if byID[first].Status != models.PendingStatusAnswered {
		t.Error("earliest pending record should be answered first")
	}
	if byID[second].Status != models.PendingStatusPending {
		t.Error("later record must stay pending")
	}

	if matched, _ := s.MarkAnswered("+390000", "x", time.Now()); matched {
		t.Error("contact without pending records must not match")
	}
}

func TestListSkipsUnparseableLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.jsonl")
	s := NewFileStore(path, &mockFAQ{})
	s.Append("valida", "+391234", "", "general")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	f.WriteString("{this is not json}\n")
	f.Close()
	s.Append("anche valida", "+395555", "", "general")

	all, err := s.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 parseable records, got %d", len(all))
	}
	for _, q := range all {
		if strings.Contains(q.Question, "not json") {
			t.Errorf("unparseable line leaked into results: %+v", q)
		}
	}
}
