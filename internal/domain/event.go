package domain

import "time"

// EventType names a change to a review session.
type EventType string

const (
	EventSessionStarted        EventType = "session_started"
	EventItemApproved          EventType = "item_approved"
	EventItemRejected          EventType = "item_rejected"
	EventSuggestionRegenerated EventType = "suggestion_regenerated"
	EventSessionFinalized      EventType = "session_finalized"
	EventSessionDeleted        EventType = "session_deleted"
	EventSessionExpired        EventType = "session_expired"
)

// ReviewEvent is appended to the audit log and pushed to live subscribers
// after every successful workflow operation.
type ReviewEvent struct {
	Type          EventType     `json:"type"`
	SessionID     string        `json:"session_id"`
	SentenceID    string        `json:"sentence_id,omitempty"`
	ReviewerID    string        `json:"reviewer_id,omitempty"`
	SessionStatus SessionStatus `json:"session_status,omitempty"`
	ItemStatus    ItemStatus    `json:"item_status,omitempty"`
	// Text is the approved text or the regenerated suggestion.
	Text  string    `json:"text,omitempty"`
	Stats Stats     `json:"stats"`
	At    time.Time `json:"at"`
}
