package session

import (
	"context"
	"testing"
	"time"
)

func TestSweepOnceInvokesCallback(t *testing.T) {
	s, now := newTestStore()
	id := s.Create("doc.txt", testItems(), "", nil).ID
	*now = now.Add(time.Hour)

	var expired []string
	n := sweepOnce(s, SweeperConfig{IdleTTL: time.Minute}, func(sessionID string) {
		expired = append(expired, sessionID)
	})

	if n != 1 || len(expired) != 1 || expired[0] != id {
		t.Fatalf("expected %s to be expired, got %v", id, expired)
	}
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	s, now := newTestStore()
	s.Create("doc.txt", testItems(), "", nil)
	*now = now.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	maintained := make(chan struct{}, 1)
	cfg := SweeperConfig{
		Interval:   5 * time.Millisecond,
		IdleTTL:    time.Minute,
		AfterSweep: func(context.Context) {
			select {
			case maintained <- struct{}{}:
			default:
			}
		},
	}
	StartSweeper(ctx, s, cfg, func(id string) {
		select {
		case done <- id:
		default:
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not evict the idle session")
	}
	select {
	case <-maintained:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run the after-sweep hook")
	}
	cancel()

	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}
