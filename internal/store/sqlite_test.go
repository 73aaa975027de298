package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndSessionEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []domain.ReviewEvent{
		{
			Type:          domain.EventSessionStarted,
			SessionID:     "s1",
			ReviewerID:    "rev_1",
			SessionStatus: domain.SessionPendingReview,
			Stats:         domain.Stats{Total: 3, Pending: 2, Approved: 1},
			At:            start,
		},
		{
			Type:          domain.EventItemApproved,
			SessionID:     "s1",
			SentenceID:    "item-1",
			ReviewerID:    "rev_1",
			SessionStatus: domain.SessionInProgress,
			ItemStatus:    domain.ItemApproved,
			Text:          "सबै मानिस समान छन्।",
			Stats:         domain.Stats{Total: 3, Pending: 1, Approved: 2},
			At:            start.Add(time.Minute),
		},
		{
			Type:      domain.EventSessionStarted,
			SessionID: "other",
			At:        start,
		},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Type, err)
		}
	}

	got, err := s.SessionEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != domain.EventSessionStarted || got[1].Type != domain.EventItemApproved {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}
	if got[1].SentenceID != "item-1" || got[1].Text != "सबै मानिस समान छन्।" {
		t.Errorf("unexpected approval event: %+v", got[1])
	}
	if got[1].ItemStatus != domain.ItemApproved {
		t.Errorf("expected item status approved, got %q", got[1].ItemStatus)
	}
	if !got[1].At.Equal(start.Add(time.Minute)) {
		t.Errorf("expected timestamp %v, got %v", start.Add(time.Minute), got[1].At)
	}
	if got[0].SentenceID != "" {
		t.Errorf("expected empty sentence id for session event, got %q", got[0].SentenceID)
	}
}

func TestSessionAuditSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	audit, err := s.GetSessionAudit(ctx, "missing")
	if err != nil {
		t.Fatalf("GetSessionAudit: %v", err)
	}
	if audit != nil {
		t.Fatalf("expected nil audit for unknown session, got %+v", audit)
	}

	record := func(ev domain.ReviewEvent) {
		t.Helper()
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("Record(%s): %v", ev.Type, err)
		}
	}

	record(domain.ReviewEvent{
		Type: domain.EventSessionStarted, SessionID: "s1",
		SessionStatus: domain.SessionPendingReview,
		Stats:         domain.Stats{Total: 2, Pending: 1, Approved: 1}, At: start,
	})
	record(domain.ReviewEvent{
		Type: domain.EventSessionFinalized, SessionID: "s1",
		SessionStatus: domain.SessionCompleted,
		Stats:         domain.Stats{Total: 2, Approved: 2}, At: start.Add(2 * time.Minute),
	})

	audit, err = s.GetSessionAudit(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionAudit: %v", err)
	}
	if audit.Status != domain.SessionCompleted {
		t.Errorf("expected completed, got %q", audit.Status)
	}
	if audit.Stats.Approved != 2 || audit.Stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", audit.Stats)
	}
	if !audit.StartedAt.Equal(start) {
		t.Errorf("expected started_at %v, got %v", start, audit.StartedAt)
	}
	if audit.FinalizedAt == nil || !audit.FinalizedAt.Equal(start.Add(2*time.Minute)) {
		t.Errorf("unexpected finalized_at: %v", audit.FinalizedAt)
	}
	if audit.Closed {
		t.Error("session should not be closed yet")
	}

	record(domain.ReviewEvent{
		Type: domain.EventSessionExpired, SessionID: "s1", At: start.Add(time.Hour),
	})
	audit, err = s.GetSessionAudit(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionAudit: %v", err)
	}
	if !audit.Closed {
		t.Error("expected session to be closed after expiry")
	}
	if audit.Status != domain.SessionCompleted {
		t.Errorf("closing must keep the last status, got %q", audit.Status)
	}
}

func TestTouchReviewer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if r, err := s.GetReviewer(ctx, "rev_1"); err != nil || r != nil {
		t.Fatalf("expected unknown reviewer, got %+v, %v", r, err)
	}

	if err := s.TouchReviewer(ctx, "rev_1", "Sita"); err != nil {
		t.Fatalf("TouchReviewer: %v", err)
	}
	if err := s.TouchReviewer(ctx, "rev_1", "Sita K."); err != nil {
		t.Fatalf("TouchReviewer: %v", err)
	}

	r, err := s.GetReviewer(ctx, "rev_1")
	if err != nil {
		t.Fatalf("GetReviewer: %v", err)
	}
	if r.DisplayName != "Sita K." {
		t.Errorf("expected updated display name, got %q", r.DisplayName)
	}
	if r.LastSeenAt.Before(r.FirstSeenAt) {
		t.Errorf("last seen %v before first seen %v", r.LastSeenAt, r.FirstSeenAt)
	}
}

func TestPruneEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, at := range []time.Time{now.Add(-48 * time.Hour), now.Add(-47 * time.Hour), now} {
		if err := s.Record(ctx, domain.ReviewEvent{Type: domain.EventItemApproved, SessionID: "s1", At: at}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	n, err := s.PruneEvents(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned events, got %d", n)
	}

	got, err := s.SessionEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionEvents: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(got))
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := withRetry(ctx, "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}

	calls = 0
	sentinel := errors.New("constraint failed")
	err = withRetry(ctx, "op", func() error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped sentinel, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-conflict errors must not be retried, got %d calls", calls)
	}
}

func TestIsConflictError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked (5)"), true},
		{errors.New("no such table"), false},
	}
	for _, tt := range tests {
		if got := IsConflictError(tt.err); got != tt.want {
			t.Errorf("IsConflictError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
