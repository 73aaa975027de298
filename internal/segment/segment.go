// Package segment splits extracted Devanagari text into sentences.
//
// Extracted text is noisy: terminators are often glued to the next word and
// line breaks fall in the middle of sentences. Splitting is done in layers,
// from the strictest boundary rule to the loosest, and stops at the first
// layer that keeps more than one sentence after short candidates are dropped.
package segment

import (
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// Terminator is the Devanagari full stop (danda). Every returned sentence
// ends with it.
const Terminator = "।"

// DefaultMinChars is the trimmed rune length at or below which a candidate
// is discarded.
const DefaultMinChars = 3

// trimSet is stripped from both ends of every candidate.
const trimSet = " ।.!?"

// Layer identifies which rule produced the final split.
type Layer int

const (
	// LayerNone means the input was empty after normalization.
	LayerNone Layer = iota
	// LayerDanda splits after a danda followed by a Devanagari letter.
	LayerDanda
	// LayerTerminator splits after any terminator followed by a Devanagari letter.
	LayerTerminator
	// LayerSpace splits after any terminator followed by whitespace.
	LayerSpace
)

func (l Layer) String() string {
	switch l {
	case LayerDanda:
		return "danda"
	case LayerTerminator:
		return "terminator"
	case LayerSpace:
		return "space"
	default:
		return "none"
	}
}

// Boundary rules. U+0901..U+097F covers Devanagari letters, signs and digits.
var (
	dandaBoundary      = regexp2.MustCompile(`(?<=।)\s*(?=[ँ-ॿ])`, regexp2.None)
	terminatorBoundary = regexp2.MustCompile(`(?<=[।.!?])\s*(?=[ँ-ॿ])`, regexp2.None)
	spaceBoundary      = regexp2.MustCompile(`(?<=[।.!?])\s+`, regexp2.None)
)

// Result is the outcome of segmenting one text.
type Result struct {
	Sentences []string
	Layer     Layer
	// Candidates is the number of raw segments before length filtering.
	Candidates int
}

// Segmenter splits text into sentences. The zero value uses DefaultMinChars.
type Segmenter struct {
	MinChars int
}

// New returns a Segmenter that drops candidates of minChars runes or fewer.
// A non-positive minChars selects DefaultMinChars.
func New(minChars int) *Segmenter {
	return &Segmenter{MinChars: minChars}
}

// Segment splits text with the default settings.
func Segment(text string) []string {
	return (&Segmenter{}).Segment(text)
}

// Segment returns the sentences of text in document order. It never fails;
// degenerate input yields an empty slice.
func (s *Segmenter) Segment(text string) []string {
	return s.Analyze(text).Sentences
}

// Analyze is Segment plus the layer that produced the split.
func (s *Segmenter) Analyze(text string) Result {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{Sentences: []string{}}
	}

	var (
		layer     Layer
		parts     []string
		sentences []string
	)
	for _, l := range []struct {
		layer Layer
		re    *regexp2.Regexp
	}{
		{LayerDanda, dandaBoundary},
		{LayerTerminator, terminatorBoundary},
		{LayerSpace, spaceBoundary},
	} {
		layer = l.layer
		parts = split(l.re, normalized)
		sentences = s.clean(parts)
		// A layer only wins if more than one sentence survives filtering.
		if len(sentences) > 1 {
			break
		}
	}

	return Result{
		Sentences:  sentences,
		Layer:      layer,
		Candidates: len(parts),
	}
}

// Normalize collapses every whitespace run, line breaks included, into a
// single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func (s *Segmenter) minChars() int {
	if s.MinChars <= 0 {
		return DefaultMinChars
	}
	return s.MinChars
}

func (s *Segmenter) clean(parts []string) []string {
	minChars := s.minChars()
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		c := strings.TrimSpace(strings.Trim(p, trimSet))
		if utf8.RuneCountInString(c) <= minChars {
			continue
		}
		out = append(out, c+Terminator)
	}
	return out
}

// split cuts text at every match of re, dropping the matched separator.
// Match positions from regexp2 are rune offsets.
func split(re *regexp2.Regexp, text string) []string {
	runes := []rune(text)
	var parts []string
	last := 0

	m, err := re.FindRunesMatch(runes)
	for err == nil && m != nil {
		parts = append(parts, string(runes[last:m.Index]))
		last = m.Index + m.Length
		m, err = re.FindNextMatch(m)
	}
	return append(parts, string(runes[last:]))
}

// Join renders sentences back into running text.
func Join(sentences []string) string {
	return strings.Join(sentences, " ")
}
