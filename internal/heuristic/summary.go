package heuristic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// SummarizeSteps writes a plain narrative of the sampling campaign from the
// recorded step validations. It stands in for the final analysis when the
// model cannot produce one.
func SummarizeSteps(steps []oit.Step, validations oit.StepValidations) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sampling completed with %d steps.\n", len(steps))
	for i, step := range steps {
		title := step.Title
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		v, ok := validations[i]
		switch {
		case !ok:
			fmt.Fprintf(&b, "- %s: no validation recorded.\n", title)
		case v.Validated:
			fmt.Fprintf(&b, "- %s: validated (confidence %.0f%%).", title, v.Confidence*100)
			if d := flattenData(v.Data); d != "" {
				fmt.Fprintf(&b, " Data: %s.", d)
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "- %s: not validated. %s\n", title, v.Feedback)
		}
	}
	b.WriteString("This summary was generated without the language model and should be reviewed.")
	return b.String()
}

// SummarizeLab condenses lab report text and flags it for review when it
// contains non-compliance wording.
func (r *Rules) SummarizeLab(text string) (summary string, requiresReview bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "The lab results file has no readable text.", true
	}
	markers := containsAny(Fold(text), r.LabReviewMarkers)
	params := containsTerms(Fold(text), r.Parameters)

	var b strings.Builder
	b.WriteString("Lab results summary (automatic, without language model).\n")
	if len(params) > 0 {
		fmt.Fprintf(&b, "Parameters reported: %s.\n", strings.Join(params, ", "))
	}
	if len(markers) > 0 {
		fmt.Fprintf(&b, "Findings needing review: %s.\n", strings.Join(markers, ", "))
	}
	b.WriteString("Excerpt: ")
	b.WriteString(truncate(collapseSpace(text), 1200))
	return b.String(), len(markers) > 0
}

// SummarizeFieldForm condenses a field form.
func SummarizeFieldForm(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "The field form has no readable text."
	}
	return "Field form summary (automatic, without language model).\nExcerpt: " +
		truncate(collapseSpace(text), 1500)
}

// SummarizeLab runs the embedded rules.
func SummarizeLab(text string) (string, bool) {
	return defaultRules.SummarizeLab(text)
}

// FlattenSampling renders sampling data as "key: value" lines in key order,
// nested maps joined with dots.
func FlattenSampling(data map[string]any) string {
	lines := flatten("", data)
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func flattenData(data map[string]any) string {
	lines := flatten("", data)
	sort.Strings(lines)
	return strings.Join(lines, "; ")
}

func flatten(prefix string, v any) []string {
	switch val := v.(type) {
	case map[string]any:
		var out []string
		for k, sub := range val {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			out = append(out, flatten(key, sub)...)
		}
		return out
	case []any:
		var out []string
		for i, sub := range val {
			out = append(out, flatten(fmt.Sprintf("%s[%d]", prefix, i), sub)...)
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%s: %v", prefix, val)}
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
