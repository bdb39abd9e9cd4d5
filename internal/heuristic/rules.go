// Package heuristic holds the keyword and regex fallbacks that stand in for
// the language model. Every function returns the same shape the model-backed
// path produces.
package heuristic

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var heuristicsYAML []byte

// OrderTypeRule maps keywords to an order type and its standard categories.
type OrderTypeRule struct {
	Type       string   `yaml:"type"`
	Keywords   []string `yaml:"keywords"`
	Categories []string `yaml:"categories"`
}

type rulesFile struct {
	OrderTypes        []OrderTypeRule     `yaml:"order_types"`
	DefaultType       string              `yaml:"default_type"`
	DefaultCategories []string            `yaml:"default_categories"`
	Extraction        map[string][]string `yaml:"extraction"`
	Equipment         []string            `yaml:"equipment"`
	Parameters        []string            `yaml:"parameters"`
	ExclusionMarkers  []string            `yaml:"exclusion_markers"`
	LabReviewMarkers  []string            `yaml:"lab_review_markers"`
}

// Rules is the compiled form of heuristics.yaml.
type Rules struct {
	rulesFile
	patterns map[string][]*regexp.Regexp
}

var defaultRules = mustLoad(heuristicsYAML)

func mustLoad(data []byte) *Rules {
	r, err := Load(data)
	if err != nil {
		panic(fmt.Sprintf("load heuristics.yaml: %v", err))
	}
	return r
}

// Load parses and compiles a rules document.
func Load(data []byte) (*Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DefaultType == "" {
		f.DefaultType = "DEFAULT"
	}
	r := &Rules{rulesFile: f, patterns: make(map[string][]*regexp.Regexp, len(f.Extraction))}
	for field, exprs := range f.Extraction {
		for _, e := range exprs {
			re, err := regexp.Compile(e)
			if err != nil {
				return nil, fmt.Errorf("extraction.%s: %w", field, err)
			}
			r.patterns[field] = append(r.patterns[field], re)
		}
	}
	return r, nil
}

// Default returns the embedded rules.
func Default() *Rules {
	return defaultRules
}

// Fold lower-cases s and strips diacritics so "Emisión" matches "emision".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// containsAny returns the keywords of list found in folded text, in list order.
func containsAny(folded string, list []string) []string {
	var found []string
	for _, k := range list {
		if strings.Contains(folded, k) {
			found = append(found, k)
		}
	}
	return found
}

// containsTerms is containsAny with word boundaries, for short terms such as
// "co" or "ph" that would otherwise match inside other words.
func containsTerms(folded string, list []string) []string {
	var found []string
	for _, k := range list {
		if hasTerm(folded, k) {
			found = append(found, k)
		}
	}
	return found
}

// containsStems matches keywords that start a word and may run on into it,
// so "sonometr" finds "sonometro" but "ducto" does not fire on "producto".
func containsStems(folded string, list []string) []string {
	var found []string
	for _, k := range list {
		if hasStem(folded, k) {
			found = append(found, k)
		}
	}
	return found
}

func hasStem(s, stem string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], stem)
		if i < 0 {
			return false
		}
		start := from + i
		if !isWordByte(s, start-1) {
			return true
		}
		from = start + 1
	}
	return false
}

func hasTerm(s, term string) bool {
	for from := 0; from < len(s); {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(term)
		if !isWordByte(s, start-1) && !isWordByte(s, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80
}
