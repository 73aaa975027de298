// Package session provides the in-memory registry of review sessions.
package session

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrItemNotFound is returned for an unknown sentence ID within a session.
	ErrItemNotFound = errors.New("sentence not found in session")
	// ErrInvalidTransition is returned when a decision is not allowed from the
	// item's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSessionCompleted is returned when mutating a completed session.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrNothingToApprove is returned when approving an item that has neither
	// an explicit text nor a suggestion.
	ErrNothingToApprove = errors.New("no suggestion to approve")
	// ErrRevisionChanged is returned by CompleteIfUnchanged when the session
	// was modified after the given revision.
	ErrRevisionChanged = errors.New("session changed since revision")
)

// entry guards one session. Writers on the same session serialize on mu;
// different sessions never contend.
type entry struct {
	mu      sync.RWMutex
	session *domain.ReviewSession

	// completedFrom is the revision the session was completed from.
	completedFrom uint64
}

// Store owns every active review session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
	newID    func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Store) lookup(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return e, ok
}

// Create registers a new session in pending_review status and returns a
// snapshot of it. Items are copied; the caller keeps no reference into the
// store.
func (s *Store) Create(filename string, items []domain.ReviewItem, rawText string, documentBytes []byte) domain.ReviewSession {
	now := s.now()
	sess := &domain.ReviewSession{
		ID:             s.newID(),
		SourceFilename: filename,
		Items:          make([]domain.ReviewItem, len(items)),
		RawText:        rawText,
		DocumentBytes:  documentBytes,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         domain.SessionPendingReview,
	}
	for i := range items {
		sess.Items[i] = items[i].Clone()
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{session: sess}
	s.mu.Unlock()

	slog.Info("Review session created", "session_id", sess.ID, "filename", filename, "sentences", len(items))
	return sess.Clone()
}

// SetContentType records the detected MIME type of the document.
func (s *Store) SetContentType(sessionID, contentType string) error {
	e, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.ContentType = contentType
	return nil
}

// Get returns a consistent snapshot of a session.
func (s *Store) Get(sessionID string) (domain.ReviewSession, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return domain.ReviewSession{}, ErrSessionNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Clone(), nil
}

// GetItem returns a snapshot of one item.
func (s *Store) GetItem(sessionID, itemID string) (domain.ReviewItem, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return domain.ReviewItem{}, ErrSessionNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx := e.session.FindItem(itemID)
	if idx < 0 {
		return domain.ReviewItem{}, ErrItemNotFound
	}
	return e.session.Items[idx].Clone(), nil
}

// UpdateItemStatus applies a reviewer decision to an item. The move must be
// allowed by domain.CanTransition. A non-blank approved text overwrites the
// stored approved suggestion; approving without one, or with only
// whitespace, freezes the current suggestion. The first successful update
// promotes the session from pending_review to in_progress.
func (s *Store) UpdateItemStatus(sessionID, itemID string, status domain.ItemStatus, approved *string) error {
	_, err := s.ApplyDecision(sessionID, itemID, status, approved)
	return err
}

// ApplyDecision is UpdateItemStatus returning the session as it was written,
// taken under the same lock as the update.
func (s *Store) ApplyDecision(sessionID, itemID string, status domain.ItemStatus, approved *string) (domain.ReviewSession, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return domain.ReviewSession{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.session
	if sess.Status == domain.SessionCompleted {
		return domain.ReviewSession{}, ErrSessionCompleted
	}
	idx := sess.FindItem(itemID)
	if idx < 0 {
		return domain.ReviewSession{}, ErrItemNotFound
	}
	item := &sess.Items[idx]
	if !domain.CanTransition(item.Status, status) {
		return domain.ReviewSession{}, ErrInvalidTransition
	}

	if approved != nil && strings.TrimSpace(*approved) == "" {
		approved = nil
	}
	if status == domain.ItemApproved && approved == nil {
		if item.Suggestion == nil || strings.TrimSpace(*item.Suggestion) == "" {
			return domain.ReviewSession{}, ErrNothingToApprove
		}
		approved = item.Suggestion
	}

	item.Status = status
	if approved != nil {
		v := *approved
		item.ApprovedSuggestion = &v
	}
	if sess.Status == domain.SessionPendingReview {
		sess.Status = domain.SessionInProgress
	}
	s.touch(sess)
	return sess.Clone(), nil
}

// UpdateItemSuggestion stores a regenerated suggestion and reopens the item
// for review. The reset to pending is unconditional.
func (s *Store) UpdateItemSuggestion(sessionID, itemID, suggestion string) error {
	e, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.session
	if sess.Status == domain.SessionCompleted {
		return ErrSessionCompleted
	}
	idx := sess.FindItem(itemID)
	if idx < 0 {
		return ErrItemNotFound
	}
	item := &sess.Items[idx]
	item.Suggestion = &suggestion
	item.Status = domain.ItemPending
	s.touch(sess)
	return nil
}

// Stats counts a session's items by status.
func (s *Store) Stats(sessionID string) (domain.Stats, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return domain.Stats{}, ErrSessionNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Stats(), nil
}

// IsReadyForFinalization reports whether every biased item is approved.
// Unknown sessions are never ready.
func (s *Store) IsReadyForFinalization(sessionID string) bool {
	e, ok := s.lookup(sessionID)
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.ReadyForFinalization()
}

// MarkCompleted moves a session to completed.
func (s *Store) MarkCompleted(sessionID string) error {
	e, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.complete(e)
	return nil
}

// CompleteIfUnchanged marks a session completed only if nothing changed
// since the given revision. A session that is already completed counts as
// unchanged for the revision it was completed from and for its current one,
// so concurrent finalizers of the same snapshot all succeed.
func (s *Store) CompleteIfUnchanged(sessionID string, revision uint64) error {
	e, ok := s.lookup(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == domain.SessionCompleted {
		if revision == e.completedFrom || revision == e.session.Revision {
			return nil
		}
		return ErrRevisionChanged
	}
	if e.session.Revision != revision {
		return ErrRevisionChanged
	}
	s.complete(e)
	return nil
}

func (s *Store) complete(e *entry) {
	if e.session.Status == domain.SessionCompleted {
		return
	}
	e.completedFrom = e.session.Revision
	e.session.Status = domain.SessionCompleted
	s.touch(e.session)
}

// Delete removes a session.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	slog.Info("Review session deleted", "session_id", sessionID)
	return nil
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Summary is a lightweight view of a session for listings.
type Summary struct {
	ID        string
	Status    domain.SessionStatus
	UpdatedAt time.Time
	Stats     domain.Stats
}

// List returns a summary of every session.
func (s *Store) List() []Summary {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, Summary{
			ID:        e.session.ID,
			Status:    e.session.Status,
			UpdatedAt: e.session.UpdatedAt,
			Stats:     e.session.Stats(),
		})
		e.mu.RUnlock()
	}
	return out
}

// touch must be called with the entry lock held.
func (s *Store) touch(sess *domain.ReviewSession) {
	sess.Revision++
	sess.UpdatedAt = s.now()
}

// Sweep removes sessions idle for longer than idleTTL and completed sessions
// untouched for longer than completedRetention. A zero duration disables
// that rule. It returns the removed session IDs.
func (s *Store) Sweep(idleTTL, completedRetention time.Duration) []string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, e := range s.sessions {
		e.mu.RLock()
		age := now.Sub(e.session.UpdatedAt)
		completed := e.session.Status == domain.SessionCompleted
		e.mu.RUnlock()

		expired := false
		if completed && completedRetention > 0 && age > completedRetention {
			expired = true
		}
		if !completed && idleTTL > 0 && age > idleTTL {
			expired = true
		}
		if expired {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}
