// Package gateway holds the clients for the services the review workflow
// depends on but does not implement: bias classification, rewrite
// suggestion, text extraction and document rendering.
package gateway

import (
	"context"
	"errors"
)

// ErrUnavailable marks a gateway that is not configured or cannot be reached.
var ErrUnavailable = errors.New("gateway unavailable")

// Classification is the raw output of the bias classifier for one sentence.
type Classification struct {
	Label string
	Score float64
}

// Classifier labels a single sentence.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// SuggestRequest asks for a bias-free rewrite of one sentence.
type SuggestRequest struct {
	Sentence string
	Category string
	Context  string
}

// Suggester produces rewrite suggestions for biased sentences.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (string, error)
}

// Refiner re-segments sentences produced by the pattern segmenter.
type Refiner interface {
	Refine(ctx context.Context, sentences []string) ([]string, error)
}

// Substitution is one sentence of the final document.
type Substitution struct {
	OriginalText string `json:"original_text"`
	FinalText    string `json:"final_text"`
	WasModified  bool   `json:"was_modified"`
}

// RenderRequest carries the original document and the substitutions to apply.
type RenderRequest struct {
	Document      []byte
	ContentType   string
	OutputName    string
	Substitutions []Substitution
}

// RenderDetail reports what happened to one substitution.
type RenderDetail struct {
	OriginalText string `json:"original_text"`
	FinalText    string `json:"final_text"`
	Applied      bool   `json:"applied"`
	Note         string `json:"note,omitempty"`
}

// RenderResult is the regenerated document.
type RenderResult struct {
	Document    []byte
	ContentType string
	Details     []RenderDetail
}

// Renderer regenerates a document with substitutions applied.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// Extracted is the text content of an uploaded document.
type Extracted struct {
	Text        string
	ContentType string
}

// Extractor turns uploaded document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Extracted, error)
}

// HealthChecker is implemented by gateways that can report liveness.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Ensure implementations satisfy the interfaces.
var (
	_ Classifier    = (*ModelClient)(nil)
	_ Renderer      = (*ModelClient)(nil)
	_ HealthChecker = (*ModelClient)(nil)
	_ Suggester     = (*LLMClient)(nil)
	_ Refiner       = (*LLMClient)(nil)
	_ Renderer      = (*TextRenderer)(nil)
	_ Renderer      = (*RoutingRenderer)(nil)
	_ Extractor     = (*DocumentExtractor)(nil)
)
