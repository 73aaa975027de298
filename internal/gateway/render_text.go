package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// sentenceEdges are trimmed from substitution texts before matching, since
// segmented sentences carry a normalized terminator the source may lack.
const sentenceEdges = " ।.!?"

// TextRenderer applies substitutions to plain-text documents. Sentences are
// matched in document order, tolerating any whitespace between words, so
// line breaks in the source do not prevent a match.
type TextRenderer struct{}

// Render rewrites the text document in req.Document.
func (TextRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	rest := string(req.Document)
	var out strings.Builder
	out.Grow(len(rest))

	details := make([]RenderDetail, 0, len(req.Substitutions))
	for _, sub := range req.Substitutions {
		if err := ctx.Err(); err != nil {
			return RenderResult{}, err
		}

		detail := RenderDetail{OriginalText: sub.OriginalText, FinalText: sub.FinalText}
		re, err := sentencePattern(sub.OriginalText)
		if err != nil {
			return RenderResult{}, fmt.Errorf("render: %w", err)
		}
		if re == nil {
			detail.Note = "empty sentence"
			details = append(details, detail)
			continue
		}

		loc := re.FindStringIndex(rest)
		if loc == nil {
			if sub.WasModified {
				detail.Note = "sentence not found in document"
			}
			details = append(details, detail)
			continue
		}

		out.WriteString(rest[:loc[0]])
		if sub.WasModified {
			out.WriteString(strings.Trim(sub.FinalText, sentenceEdges))
			detail.Applied = true
		} else {
			out.WriteString(rest[loc[0]:loc[1]])
		}
		rest = rest[loc[1]:]
		details = append(details, detail)
	}
	out.WriteString(rest)

	return RenderResult{
		Document:    []byte(out.String()),
		ContentType: req.ContentType,
		Details:     details,
	}, nil
}

// sentencePattern matches the words of sentence separated by any whitespace.
// It returns nil for a sentence with no words.
func sentencePattern(sentence string) (*regexp.Regexp, error) {
	words := strings.Fields(strings.Trim(sentence, sentenceEdges))
	if len(words) == 0 {
		return nil, nil
	}
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.Compile(strings.Join(words, `\s+`))
}

// RoutingRenderer picks a renderer by document type: PDFs go to the model
// service, plain text is rendered in process.
type RoutingRenderer struct {
	PDF  Renderer
	Text Renderer
}

// Render dispatches on req.ContentType.
func (r *RoutingRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	var target Renderer
	switch {
	case IsPDF(req.ContentType):
		target = r.PDF
	case IsText(req.ContentType):
		target = r.Text
	default:
		return RenderResult{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, req.ContentType)
	}
	if target == nil {
		return RenderResult{}, fmt.Errorf("render %s: %w", req.ContentType, ErrUnavailable)
	}
	return target.Render(ctx, req)
}
