package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/ashureev/debias-review/internal/store"
	"gopkg.in/yaml.v3"
)

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.Reader = strings.NewReader(stdin)
	if err := app.Run(context.Background(), append([]string{"debiasctl"}, args...)); err != nil {
		t.Fatalf("debiasctl %v: %v", args, err)
	}
	return out.String()
}

func TestSegmentCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte("राम घर गयो। सीता पनि आइन्।"), 0o600); err != nil {
		t.Fatal(err)
	}

	out := run(t, "", "segment", path)
	if out != "1\tराम घर गयो।\n2\tसीता पनि आइन्।\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSegmentCommandYAMLFromStdin(t *testing.T) {
	out := run(t, "राम घर गयो। सीता पनि आइन्।", "--format", "yaml", "segment")

	var got segmentOutput
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("yaml: %v\n%s", err, out)
	}
	if len(got.Sentences) != 2 || got.Layer == "" {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestLabelsCommandJSON(t *testing.T) {
	out := run(t, "", "--format", "json", "labels")

	var got map[string][]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json: %v\n%s", err, out)
	}
	if len(got["gender"]) == 0 || len(got["neutral"]) == 0 {
		t.Errorf("expected gender and neutral labels, got %v", got)
	}
}

func TestEventsAndPruneCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "review.db")
	repo, err := store.NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)
	for _, ev := range []domain.ReviewEvent{
		{Type: domain.EventSessionStarted, SessionID: "s1", At: old, Stats: domain.Stats{Total: 2, Pending: 1, Approved: 1}},
		{Type: domain.EventItemApproved, SessionID: "s1", SentenceID: "i1", ReviewerID: "rev_a", At: time.Now(), Stats: domain.Stats{Total: 2, Approved: 2}},
	} {
		if err := repo.Record(ctx, ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	_ = repo.Close()

	out := run(t, "", "events", "--db", db, "s1")
	if !strings.Contains(out, "session_started") || !strings.Contains(out, "item_approved") || !strings.Contains(out, "rev_a") {
		t.Errorf("unexpected events output:\n%s", out)
	}

	out = run(t, "", "prune", "--db", db, "--older-than", "24h")
	if strings.TrimSpace(out) != "Deleted 1 event(s)" {
		t.Errorf("unexpected prune output %q", out)
	}

	out = run(t, "", "--format", "json", "events", "--db", db, "s1")
	var events []domain.ReviewEvent
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("json: %v\n%s", err, out)
	}
	if len(events) != 1 || events[0].Type != domain.EventItemApproved {
		t.Errorf("expected only the recent event to remain, got %+v", events)
	}
}
