package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
)

// fakeChatServer answers /chat/completions with a fixed assistant message.
func fakeChatServer(t *testing.T, reply string, status int) (*LLMClient, func() []map[string]any) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []map[string]any
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		requests = append(requests, body)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "mistral-small-latest",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := NewLLMClient(LLMConfig{
		Provider:   "mistral",
		Model:      "mistral-small-latest",
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/",
		MaxRetries: -1,
	}, nil)
	if err != nil {
		t.Fatalf("NewLLMClient: %v", err)
	}
	return client, func() []map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return append([]map[string]any(nil), requests...)
	}
}

func TestLLMClientSuggest(t *testing.T) {
	client, requests := fakeChatServer(t, "\n  सबै मानिस समान छन्  \nयो व्याख्या हो।", http.StatusOK)

	got, err := client.Suggest(context.Background(), SuggestRequest{
		Sentence: "केटीहरू कमजोर हुन्छन्।",
		Category: "gender",
	})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got != "सबै मानिस समान छन्।" {
		t.Fatalf("Suggest() = %q", got)
	}

	seen := requests()
	if len(seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(seen))
	}
	req := seen[0]
	if req["model"] != "mistral-small-latest" {
		t.Errorf("unexpected model %v", req["model"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	content, _ := user["content"].(string)
	if !strings.Contains(content, "Category: gender") || !strings.Contains(content, "Context: N/A") {
		t.Errorf("user prompt missing fields: %q", content)
	}
}

func TestLLMClientSuggestUpstreamError(t *testing.T) {
	client, _ := fakeChatServer(t, "", http.StatusInternalServerError)
	if _, err := client.Suggest(context.Background(), SuggestRequest{Sentence: "x।"}); err == nil {
		t.Fatal("expected error from failing upstream")
	}
}

func TestLLMClientSuggestEmptyReply(t *testing.T) {
	client, _ := fakeChatServer(t, "   \n\n", http.StatusOK)
	_, err := client.Suggest(context.Background(), SuggestRequest{Sentence: "x।"})
	if !errors.Is(err, errEmptySuggestion) {
		t.Fatalf("expected errEmptySuggestion, got %v", err)
	}
}

func TestLLMClientRefine(t *testing.T) {
	reply := "Here you go:\n```json\n[\"पहिलो वाक्य।\", \"दोस्रो वाक्य\", \"  \"]\n```"
	client, _ := fakeChatServer(t, reply, http.StatusOK)

	got, err := client.Refine(context.Background(), []string{"पहिलो वाक्य। दोस्रो वाक्य।"})
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	want := []string{"पहिलो वाक्य।", "दोस्रो वाक्य।"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Refine() = %q, want %q", got, want)
	}
}

func TestLLMClientRefineUnparseable(t *testing.T) {
	client, _ := fakeChatServer(t, "I cannot do that.", http.StatusOK)
	_, err := client.Refine(context.Background(), []string{"एक वाक्य।"})
	if !errors.Is(err, errNoJSONArray) {
		t.Fatalf("expected errNoJSONArray, got %v", err)
	}
}

func TestNewLLMClientValidation(t *testing.T) {
	if _, err := NewLLMClient(LLMConfig{Model: "m"}, nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable without api key, got %v", err)
	}
	if _, err := NewLLMClient(LLMConfig{APIKey: "k"}, nil); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := NewLLMClient(LLMConfig{APIKey: "k", Model: "m", Provider: "nope"}, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestCleanSuggestion(t *testing.T) {
	tests := []struct {
		raw, source, want string
	}{
		{"नयाँ वाक्य", "पुरानो वाक्य।", "नयाँ वाक्य।"},
		{"नयाँ वाक्य।", "पुरानो वाक्य।", "नयाँ वाक्य।"},
		{"नयाँ वाक्य", "पुरानो वाक्य", "नयाँ वाक्य"},
		{"", "x।", ""},
	}
	for _, tt := range tests {
		if got := cleanSuggestion(tt.raw, tt.source); got != tt.want {
			t.Errorf("cleanSuggestion(%q, %q) = %q, want %q", tt.raw, tt.source, got, tt.want)
		}
	}
}
