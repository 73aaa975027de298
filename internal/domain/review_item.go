package domain

// ItemStatus is the review state of a single sentence.
type ItemStatus string

const (
	// ItemPending waits for a reviewer decision.
	ItemPending ItemStatus = "pending"
	// ItemApproved is final for the review phase.
	ItemApproved ItemStatus = "approved"
	// ItemNeedsRegeneration was rejected and waits for a new suggestion.
	ItemNeedsRegeneration ItemStatus = "needs_regeneration"
)

// Valid reports whether s is a known item status.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemApproved, ItemNeedsRegeneration:
		return true
	}
	return false
}

// CanTransition reports whether a reviewer decision may move an item from
// one status to another. Regeneration resets are not decisions and bypass
// this check.
func CanTransition(from, to ItemStatus) bool {
	switch from {
	case ItemPending:
		return to == ItemApproved || to == ItemNeedsRegeneration
	case ItemNeedsRegeneration:
		return to == ItemNeedsRegeneration
	default:
		return false
	}
}

// ReviewItem is one sentence of a document under review.
type ReviewItem struct {
	ID                 string     `json:"sentence_id"`
	OriginalText       string     `json:"original_sentence"`
	IsBiased           bool       `json:"is_biased"`
	Category           Category   `json:"category"`
	Confidence         float64    `json:"confidence"`
	Suggestion         *string    `json:"suggestion"`
	ApprovedSuggestion *string    `json:"approved_suggestion"`
	Status             ItemStatus `json:"status"`
}

// NewReviewItem builds an item in its initial state. Neutral items are
// approved immediately and never enter review.
func NewReviewItem(id, text string, category Category, confidence float64, biased bool, suggestion *string) ReviewItem {
	item := ReviewItem{
		ID:           id,
		OriginalText: text,
		IsBiased:     biased,
		Category:     category,
		Confidence:   confidence,
		Status:       ItemApproved,
	}
	if biased {
		item.Status = ItemPending
		item.Suggestion = cloneString(suggestion)
	}
	return item
}

// Clone returns a copy that shares no pointers with the receiver.
func (it ReviewItem) Clone() ReviewItem {
	it.Suggestion = cloneString(it.Suggestion)
	it.ApprovedSuggestion = cloneString(it.ApprovedSuggestion)
	return it
}

// FinalText returns the text that should appear in the regenerated
// document for this item.
func (it ReviewItem) FinalText() string {
	if it.IsBiased && it.Status == ItemApproved && it.ApprovedSuggestion != nil {
		return *it.ApprovedSuggestion
	}
	return it.OriginalText
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
