// Package pending stores low-confidence customer questions awaiting operator
// review.
//
// Records are created append-only and never physically deleted; status is the
// lifecycle marker. Updates rewrite the whole store, so every operation
// serializes on a single store-wide lock and the rewrite is all-or-nothing
// (temp file plus atomic rename).
package pending

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// PromoteSection is the knowledge base section promoted questions land under.
const PromoteSection = "Operator answers"

// FAQAppender writes a promoted question/answer pair into the knowledge base.
type FAQAppender interface {
	AppendCustom(section, question, answer string) error
}

// Patch describes an in-place update to a pending question. Nil fields are
// left untouched.
type Patch struct {
	Status            *models.PendingStatus
	OperatorResponse  *string
	ResponseTimestamp *time.Time
}

// Store is the pending-question contract: append-only creation, in-place
// status updates, forward-only lifecycle.
type Store interface {
	Append(question, fromContact, fromName, category string) (string, error)
	List() ([]models.PendingQuestion, error)
	ListPending() ([]models.PendingQuestion, error)
	Update(id string, patch Patch) error
	MarkAnswered(contact, operatorResponse string, at time.Time) (bool, error)
	PromoteToFAQ(id string) error
}

// FileStore keeps one JSON object per line. Unparseable lines are skipped when
// listing so a corrupt record never takes the whole store down.
type FileStore struct {
	path string
	faq  FAQAppender

	mu       sync.Mutex
	lastNano int64 // last nanosecond used for an ID, for monotonic uniqueness
	now      func() time.Time
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore creates a FileStore backed by the given path. Promotions write
// into the knowledge base through faq.
func NewFileStore(path string, faq FAQAppender, opts ...Option) *FileStore {
	s := &FileStore{path: path, faq: faq, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a new pending question and returns its id. IDs are
// time-derived, unique, and monotonically ordered.
func (s *FileStore) Append(question, fromContact, fromName, category string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	nano := now.UnixNano()
	if nano <= s.lastNano {
		nano = s.lastNano + 1
	}
	s.lastNano = nano

	q := models.PendingQuestion{
		ID:          fmt.Sprintf("q_%d", nano),
		Question:    question,
		FromContact: fromContact,
		FromName:    fromName,
		Category:    category,
		Timestamp:   now.UTC(),
		Status:      models.PendingStatusPending,
	}

	line, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pending question: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return "", fmt.Errorf("failed to create pending store directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open pending store: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("failed to append pending question: %w", err)
	}

	slog.Info("PendingStore question appended", "id", q.ID, "from", fromContact, "category", category)
	return q.ID, nil
}

// List returns every record in the store, in file order.
func (s *FileStore) List() ([]models.PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

// ListPending returns records still awaiting an operator.
func (s *FileStore) ListPending() ([]models.PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	var out []models.PendingQuestion
	for _, q := range all {
		if q.Status == models.PendingStatusPending {
			out = append(out, q)
		}
	}
	return out, nil
}

// Update applies the patch to the record matching id and rewrites the store.
// Status changes must move the lifecycle forward.
func (s *FileStore) Update(id string, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, patch)
}

func (s *FileStore) updateLocked(id string, patch Patch) error {
	all, err := s.readAllLocked()
	if err != nil {
		return err
	}

	found := false
	for i := range all {
		if all[i].ID != id {
			continue
		}
		if patch.Status != nil {
			if !models.CanTransition(all[i].Status, *patch.Status) {
				return fmt.Errorf("update %s from %s to %s: %w", id, all[i].Status, *patch.Status, models.ErrBackwardTransition)
			}
			all[i].Status = *patch.Status
		}
		if patch.OperatorResponse != nil {
			all[i].OperatorResponse = patch.OperatorResponse
		}
		if patch.ResponseTimestamp != nil {
			all[i].ResponseTimestamp = patch.ResponseTimestamp
		}
		found = true
		break
	}
	if !found {
		return fmt.Errorf("update %s: %w", id, models.ErrPendingNotFound)
	}

	return s.rewriteLocked(all)
}

// MarkAnswered transitions the earliest pending record for the exact contact
// to answered, recording the operator's response. It reports whether a record
// matched. Ties break on earliest timestamp, then file order.
func (s *FileStore) MarkAnswered(contact, operatorResponse string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return false, err
	}

	best := -1
	for i := range all {
		if all[i].Status != models.PendingStatusPending || all[i].FromContact != contact {
			continue
		}
		if best < 0 || all[i].Timestamp.Before(all[best].Timestamp) {
			best = i
		}
	}
	if best < 0 {
		return false, nil
	}

	at = at.UTC()
	all[best].Status = models.PendingStatusAnswered
	all[best].OperatorResponse = &operatorResponse
	all[best].ResponseTimestamp = &at

	if err := s.rewriteLocked(all); err != nil {
		return false, err
	}
	slog.Info("PendingStore question answered by operator", "id", all[best].ID, "contact", contact)
	return true, nil
}

// PromoteToFAQ writes the record's question and operator response into the
// knowledge base, then marks it saved_as_faq. Promoting a record with no
// operator response, or an unknown id, is rejected with no state change.
func (s *FileStore) PromoteToFAQ(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAllLocked()
	if err != nil {
		return err
	}

	var target *models.PendingQuestion
	for i := range all {
		if all[i].ID == id {
			target = &all[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("promote %s: %w", id, models.ErrPendingNotFound)
	}
	if target.OperatorResponse == nil || *target.OperatorResponse == "" {
		return fmt.Errorf("promote %s: %w", id, models.ErrNoOperatorResponse)
	}
	if target.Status == models.PendingStatusSavedAsFAQ {
		return fmt.Errorf("promote %s from %s to %s: %w", id, target.Status, models.PendingStatusSavedAsFAQ, models.ErrBackwardTransition)
	}

	if err := s.faq.AppendCustom(PromoteSection, target.Question, *target.OperatorResponse); err != nil {
		return fmt.Errorf("failed to append promoted entry: %w", err)
	}

	status := models.PendingStatusSavedAsFAQ
	if err := s.updateLocked(id, Patch{Status: &status}); err != nil {
		return err
	}
	slog.Info("PendingStore question promoted to FAQ", "id", id)
	return nil
}

// readAllLocked parses the store file, skipping unparseable lines.
func (s *FileStore) readAllLocked() ([]models.PendingQuestion, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open pending store: %w", err)
	}
	defer f.Close()

	var out []models.PendingQuestion
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var q models.PendingQuestion
		if err := json.Unmarshal(line, &q); err != nil {
			slog.Warn("PendingStore skipping unparseable record", "error", err)
			continue
		}
		out = append(out, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan pending store: %w", err)
	}
	return out, nil
}

// rewriteLocked replaces the store file in one atomic step.
func (s *FileStore) rewriteLocked(all []models.PendingQuestion) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create pending store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pending-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp pending store: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, q := range all {
		line, err := json.Marshal(q)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to marshal pending question: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("failed to write temp pending store: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush temp pending store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp pending store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace pending store: %w", err)
	}
	return nil
}
