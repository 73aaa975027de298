package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const danda = "।"

// Provider base URLs for OpenAI-compatible chat completion endpoints.
var providerBaseURLs = map[string]string{
	"mistral": "https://api.mistral.ai/v1/",
	"openai":  "",
}

var (
	errEmptyChoices    = errors.New("llm returned no choices")
	errEmptySuggestion = errors.New("llm returned an empty suggestion")
	errNoJSONArray     = errors.New("llm response has no JSON array")
)

const suggestSystemPrompt = "You are a Nepali editor. Rewrite the given sentence to remove bias while keeping the original meaning, tone, and formality. " +
	"Return only ONE rewritten sentence in Nepali, no explanations, no English, no context echoes."

const refineSystemPrompt = `You are a Nepali text processing expert specialized in sentence segmentation.
Split the provided text into complete, meaningful sentences. Nepali sentences end with "।" (danda), not ".".
Fix incorrectly merged or split sentences and remove duplicates.
Every sentence must end with "।". Return ONLY a valid JSON array of strings, nothing else.`

// LLMConfig configures the chat completion client.
type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// MaxRetries overrides the SDK retry count. Zero keeps the default,
	// negative disables retries.
	MaxRetries int
}

// LLMClient produces rewrite suggestions and refines segmentation through
// an OpenAI-compatible chat completion API.
type LLMClient struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// NewLLMClient validates cfg and builds the client.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) (*LLMClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm api key missing", ErrUnavailable)
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		provider := strings.ToLower(cfg.Provider)
		url, ok := providerBaseURLs[provider]
		if !ok {
			return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
		}
		baseURL = url
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}

	logger.Info("LLM client configured", "provider", cfg.Provider, "model", cfg.Model)

	return &LLMClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (c *LLMClient) complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Suggest asks for a single bias-free rewrite of req.Sentence.
func (c *LLMClient) Suggest(ctx context.Context, req SuggestRequest) (string, error) {
	ctxText := req.Context
	if ctxText == "" {
		ctxText = "N/A"
	}
	user := fmt.Sprintf("Category: %s\nSentence: %s\nContext: %s\n\n"+
		"Rewrite this single sentence in Nepali so it is neutral and inclusive. Output only the rewritten sentence.",
		req.Category, req.Sentence, ctxText)

	raw, err := c.complete(ctx, suggestSystemPrompt, user, 0.3)
	if err != nil {
		return "", fmt.Errorf("suggest: %w", err)
	}

	suggestion := cleanSuggestion(raw, req.Sentence)
	if suggestion == "" {
		return "", errEmptySuggestion
	}
	return suggestion, nil
}

// cleanSuggestion keeps the first non-empty line and restores the danda
// when the source sentence had one.
func cleanSuggestion(raw, source string) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return ""
	}
	if strings.HasSuffix(strings.TrimSpace(source), danda) && !strings.HasSuffix(line, danda) {
		line += danda
	}
	return line
}

// Refine asks the model to fix sentence boundaries. Callers keep their own
// segmentation when it returns an error.
func (c *LLMClient) Refine(ctx context.Context, sentences []string) ([]string, error) {
	if len(sentences) == 0 {
		return []string{}, nil
	}

	user := fmt.Sprintf("Process this Nepali text and return properly segmented sentences as a JSON array.\n\n"+
		"Text: %s\n\nReturn format: [\"sentence1।\", \"sentence2।\", ...]", strings.Join(sentences, " "))

	raw, err := c.complete(ctx, refineSystemPrompt, user, 0.2)
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}

	refined, err := parseSentenceArray(raw)
	if err != nil {
		return nil, fmt.Errorf("refine: %w", err)
	}
	c.logger.Info("LLM refined segmentation", "before", len(sentences), "after", len(refined))
	return refined, nil
}

// parseSentenceArray extracts the outermost JSON array from a chat reply,
// which may be wrapped in prose or a code fence.
func parseSentenceArray(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errNoJSONArray
	}

	var items []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode sentence array: %w", err)
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, danda) {
			s += danda
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errNoJSONArray
	}
	return out, nil
}
