package domain

import "testing"

func strPtr(s string) *string { return &s }

func TestNewReviewItemAutoApprovesNeutral(t *testing.T) {
	item := NewReviewItem("a", "यो वाक्य हो।", CategoryNeutral, 0.99, false, strPtr("ignored"))
	if item.Status != ItemApproved {
		t.Fatalf("expected neutral item to be approved, got %s", item.Status)
	}
	if item.Suggestion != nil {
		t.Fatalf("expected no suggestion on neutral item, got %q", *item.Suggestion)
	}

	biased := NewReviewItem("b", "यो वाक्य हो।", CategoryGender, 0.9, true, nil)
	if biased.Status != ItemPending {
		t.Fatalf("expected biased item to start pending, got %s", biased.Status)
	}
}

func TestReadyForFinalization(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ItemStatus
		biased   []bool
		want     bool
	}{
		{"no items", nil, nil, true},
		{"all neutral", []ItemStatus{ItemApproved, ItemApproved}, []bool{false, false}, true},
		{"biased pending", []ItemStatus{ItemPending, ItemApproved}, []bool{true, false}, false},
		{"biased needs regeneration", []ItemStatus{ItemApproved, ItemNeedsRegeneration}, []bool{true, true}, false},
		{"all biased approved", []ItemStatus{ItemApproved, ItemApproved}, []bool{true, true}, true},
		{"neutral status ignored", []ItemStatus{ItemApproved, ItemPending}, []bool{true, false}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &ReviewSession{}
			for i := range tt.statuses {
				s.Items = append(s.Items, ReviewItem{ID: string(rune('a' + i)), IsBiased: tt.biased[i], Status: tt.statuses[i]})
			}
			if got := s.ReadyForFinalization(); got != tt.want {
				t.Errorf("ReadyForFinalization() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := &ReviewSession{Items: []ReviewItem{{ID: "a", Suggestion: strPtr("one")}}}
	c := s.Clone()
	*c.Items[0].Suggestion = "two"
	c.Items[0].Status = ItemApproved

	if *s.Items[0].Suggestion != "one" {
		t.Fatalf("clone shares suggestion pointer with original")
	}
	if s.Items[0].Status == ItemApproved {
		t.Fatalf("clone shares item slice with original")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemPending, ItemApproved, true},
		{ItemPending, ItemNeedsRegeneration, true},
		{ItemNeedsRegeneration, ItemNeedsRegeneration, true},
		{ItemNeedsRegeneration, ItemApproved, false},
		{ItemApproved, ItemNeedsRegeneration, false},
		{ItemApproved, ItemPending, false},
		{ItemApproved, ItemApproved, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatsOutstanding(t *testing.T) {
	s := &ReviewSession{Items: []ReviewItem{
		{Status: ItemPending},
		{Status: ItemNeedsRegeneration},
		{Status: ItemApproved},
	}}
	st := s.Stats()
	if st.Total != 3 || st.Pending != 1 || st.NeedsRegeneration != 1 || st.Approved != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Outstanding() != 2 {
		t.Fatalf("expected 2 outstanding, got %d", st.Outstanding())
	}
}
