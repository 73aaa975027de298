// Package domain contains core domain types for the bias review service.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a review session.
type SessionStatus string

const (
	// SessionPendingReview is the initial state; no item has been acted on yet.
	SessionPendingReview SessionStatus = "pending_review"
	// SessionInProgress is entered on the first item status change.
	SessionInProgress SessionStatus = "in_progress"
	// SessionCompleted is entered after a successful final render. Terminal.
	SessionCompleted SessionStatus = "completed"
)

// ReviewSession holds the review state for one uploaded document.
type ReviewSession struct {
	ID             string        `json:"session_id"`
	SourceFilename string        `json:"original_filename"`
	ContentType    string        `json:"content_type"`
	Items          []ReviewItem  `json:"sentences"`
	RawText        string        `json:"-"`
	DocumentBytes  []byte        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Status         SessionStatus `json:"status"`
	Revision       uint64        `json:"revision"`
}

// Clone returns a deep copy of the session. Document bytes are shared
// because they are never mutated after creation.
func (s *ReviewSession) Clone() ReviewSession {
	out := *s
	out.Items = make([]ReviewItem, len(s.Items))
	for i := range s.Items {
		out.Items[i] = s.Items[i].Clone()
	}
	return out
}

// FindItem returns the index of the item with the given ID, or -1.
func (s *ReviewSession) FindItem(itemID string) int {
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// Stats counts items by review status.
func (s *ReviewSession) Stats() Stats {
	st := Stats{Total: len(s.Items)}
	for i := range s.Items {
		switch s.Items[i].Status {
		case ItemPending:
			st.Pending++
		case ItemApproved:
			st.Approved++
		case ItemNeedsRegeneration:
			st.NeedsRegeneration++
		}
	}
	return st
}

// ReadyForFinalization reports whether every biased item is approved.
// Non-biased items are exempt; they were approved at creation.
func (s *ReviewSession) ReadyForFinalization() bool {
	for i := range s.Items {
		if s.Items[i].IsBiased && s.Items[i].Status != ItemApproved {
			return false
		}
	}
	return true
}

// BiasedCount returns the number of items flagged as biased.
func (s *ReviewSession) BiasedCount() int {
	n := 0
	for i := range s.Items {
		if s.Items[i].IsBiased {
			n++
		}
	}
	return n
}

// Stats summarizes item statuses of a session.
type Stats struct {
	Total             int `json:"total_sentences"`
	Pending           int `json:"pending_count"`
	Approved          int `json:"approved_count"`
	NeedsRegeneration int `json:"needs_regeneration_count"`
}

// Outstanding returns the number of items still blocking finalization.
func (s Stats) Outstanding() int {
	return s.Pending + s.NeedsRegeneration
}
