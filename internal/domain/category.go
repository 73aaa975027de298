package domain

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is the bias category assigned to a sentence by the classifier.
type Category string

// Known categories. CategoryUnknown is used for any label the map does not
// recognize.
const (
	CategoryNeutral      Category = "neutral"
	CategoryGender       Category = "gender"
	CategoryRegional     Category = "regional"
	CategoryCaste        Category = "caste"
	CategoryReligion     Category = "religion"
	CategoryAppearance   Category = "appearance"
	CategorySocialStatus Category = "social_status"
	CategoryAmbiguity    Category = "ambiguity"
	CategoryPolitical    Category = "political"
	CategoryAge          Category = "age"
	CategoryDisability   Category = "disability"
	CategoryUnknown      Category = "unknown"
)

// Categories lists every known category in label order.
var Categories = []Category{
	CategoryNeutral,
	CategoryGender,
	CategoryRegional,
	CategoryCaste,
	CategoryReligion,
	CategoryAppearance,
	CategorySocialStatus,
	CategoryAmbiguity,
	CategoryPolitical,
	CategoryAge,
	CategoryDisability,
	CategoryUnknown,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// IsNeutral reports whether the category carries no bias.
func (c Category) IsNeutral() bool {
	return c == CategoryNeutral
}

//go:embed labels.yaml
var defaultLabelsYAML []byte

type labelFile struct {
	Categories []struct {
		Name   string   `yaml:"name"`
		Labels []string `yaml:"labels"`
	} `yaml:"categories"`
}

// CategoryMap resolves raw classifier labels to categories.
type CategoryMap struct {
	byLabel map[string]Category
}

// DefaultCategoryMap returns the built-in label table.
func DefaultCategoryMap() *CategoryMap {
	m, err := ParseCategoryMap(defaultLabelsYAML)
	if err != nil {
		panic("domain: invalid embedded label map: " + err.Error())
	}
	return m
}

// LoadCategoryMap reads a label table from path. An empty path returns the
// built-in table.
func LoadCategoryMap(path string) (*CategoryMap, error) {
	if path == "" {
		return DefaultCategoryMap(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label map: %w", err)
	}
	return ParseCategoryMap(data)
}

// ParseCategoryMap parses a YAML label table.
func ParseCategoryMap(data []byte) (*CategoryMap, error) {
	var f labelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse label map: %w", err)
	}

	m := &CategoryMap{byLabel: make(map[string]Category)}
	for _, entry := range f.Categories {
		c := Category(entry.Name)
		if !c.Valid() || c == CategoryUnknown {
			return nil, fmt.Errorf("label map: unknown category %q", entry.Name)
		}
		for _, label := range entry.Labels {
			key := normalizeLabel(label)
			if key == "" {
				continue
			}
			if prev, dup := m.byLabel[key]; dup && prev != c {
				return nil, fmt.Errorf("label map: label %q maps to both %s and %s", label, prev, c)
			}
			m.byLabel[key] = c
		}
	}
	if len(m.byLabel) == 0 {
		return nil, fmt.Errorf("label map: no labels defined")
	}
	return m, nil
}

// Resolve maps a raw label to a category. Unrecognized labels resolve to
// CategoryUnknown with ok=false so callers can log them.
func (m *CategoryMap) Resolve(raw string) (Category, bool) {
	if c, ok := m.byLabel[normalizeLabel(raw)]; ok {
		return c, true
	}
	return CategoryUnknown, false
}

// Labels returns the raw labels grouped by category, sorted.
func (m *CategoryMap) Labels() map[Category][]string {
	out := make(map[Category][]string)
	for label, c := range m.byLabel {
		out[c] = append(out[c], label)
	}
	for c := range out {
		sort.Strings(out[c])
	}
	return out
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
