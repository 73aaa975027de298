// Package report renders a human-readable change report for a review session.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/debias-review/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown builds the report body for a session. Only biased sentences are
// listed; neutral ones never change.
func Markdown(sess domain.ReviewSession) string {
	st := sess.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "# Bias review: %s\n\n", cell(displayName(sess.SourceFilename)))
	fmt.Fprintf(&b, "- Session: `%s`\n", sess.ID)
	fmt.Fprintf(&b, "- Status: %s\n", sess.Status)
	fmt.Fprintf(&b, "- Updated: %s\n", sess.UpdatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Sentences: %d total, %d biased, %d approved, %d pending, %d awaiting regeneration\n\n",
		st.Total, sess.BiasedCount(), st.Approved, st.Pending, st.NeedsRegeneration)

	if sess.BiasedCount() == 0 {
		b.WriteString("No biased sentences were found.\n")
		return b.String()
	}

	b.WriteString("| # | Category | Confidence | Original | Final | Status |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for i, it := range sess.Items {
		if !it.IsBiased {
			continue
		}
		final := "-"
		switch {
		case it.Status == domain.ItemApproved:
			final = cell(it.FinalText())
		case it.Suggestion != nil:
			final = "_" + cell(*it.Suggestion) + "_"
		}
		fmt.Fprintf(&b, "| %d | %s | %.2f | %s | %s | %s |\n",
			i+1, it.Category, it.Confidence, cell(it.OriginalText), final, it.Status)
	}
	return b.String()
}

// HTML renders the report as an HTML fragment.
func HTML(sess domain.ReviewSession) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(sess)), &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Page wraps the HTML report in a standalone document.
func Page(sess domain.ReviewSession) ([]byte, error) {
	body, err := HTML(sess)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html lang=\"ne\">\n<head><meta charset=\"utf-8\"><title>Bias review</title></head>\n<body>\n")
	buf.Write(body)
	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

func displayName(filename string) string {
	if filename == "" {
		return "document"
	}
	return filename
}

// cell makes text safe inside a table cell.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "<", "&lt;")
	return s
}
