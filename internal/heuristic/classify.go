package heuristic

import "strings"

// Classification is the detected order type and the standard categories that
// apply to it, default categories included.
type Classification struct {
	Type       string
	Categories []string
}

// Classify picks exactly one order type by keyword over the joined texts.
// The first rule with a matching keyword wins; no match yields the default
// type with only the default categories.
func (r *Rules) Classify(texts ...string) Classification {
	folded := Fold(strings.Join(texts, " "))
	for _, rule := range r.OrderTypes {
		if len(containsStems(folded, rule.Keywords)) > 0 {
			return Classification{Type: rule.Type, Categories: r.withDefaults(rule.Categories)}
		}
	}
	return Classification{Type: r.DefaultType, Categories: r.withDefaults(nil)}
}

func (r *Rules) withDefaults(cats []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range append(append([]string(nil), cats...), r.DefaultCategories...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Exclusions returns the lines of a quotation that announce out-of-scope work.
func (r *Rules) Exclusions(quotation string) []string {
	var out []string
	for _, line := range strings.Split(quotation, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(containsAny(Fold(line), r.ExclusionMarkers)) > 0 {
			out = append(out, truncate(line, 240))
		}
	}
	return out
}

// Classify runs the embedded rules.
func Classify(texts ...string) Classification {
	return defaultRules.Classify(texts...)
}

// Exclusions runs the embedded rules.
func Exclusions(quotation string) []string {
	return defaultRules.Exclusions(quotation)
}
