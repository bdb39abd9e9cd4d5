package heuristic

import (
	"strings"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// ExtractDocument pulls order fields out of the OIT and quotation texts with
// regular expressions. The OIT text is searched first for every field. The
// result always has the full envelope shape.
func (r *Rules) ExtractDocument(oitText, quotationText string) oit.AIEnvelope {
	sources := []string{oitText, quotationText}
	find := func(field string) string {
		for _, src := range sources {
			if v := r.firstMatch(field, src); v != "" {
				return v
			}
		}
		return ""
	}

	data := oit.AIData{
		OITNumber:    find("oit_number"),
		Client:       find("client"),
		ClientNIT:    find("client_nit"),
		Location:     find("location"),
		City:         find("city"),
		Description:  find("description"),
		ServiceType:  find("service_type"),
		ProposedDate: find("proposed_date"),
		ProposedTime: find("proposed_time"),
		Resources:    []oit.ResourceRef{},
	}

	both := Fold(oitText + "\n" + quotationText)
	data.Parameters = containsTerms(both, r.Parameters)
	for _, eq := range containsTerms(both, r.Equipment) {
		data.Resources = append(data.Resources, oit.ResourceRef{Name: eq, Type: "equipment"})
	}
	data.Type = r.Classify(data.Description, data.ServiceType, oitText).Type

	env := oit.AIEnvelope{
		Data:     data,
		Errors:   []string{},
		Warnings: []string{"Extracted without the language model; verify every field."},
	}

	if strings.TrimSpace(oitText) == "" {
		env.Errors = append(env.Errors, "The OIT document has no readable text.")
	}
	if strings.TrimSpace(quotationText) == "" {
		env.Warnings = append(env.Warnings, "The quotation document has no readable text.")
	}
	if data.Client == "" {
		env.Errors = append(env.Errors, "Client could not be identified.")
	}
	if data.Description == "" {
		env.Warnings = append(env.Warnings, "Service description could not be identified.")
	}
	if data.OITNumber == "" {
		env.Warnings = append(env.Warnings, "OIT number not found in the documents.")
	}

	env.Valid = len(env.Errors) == 0
	if env.Valid {
		env.Message = "Documents analyzed with the fallback extractor."
	} else {
		env.Message = "Fallback extraction found problems in the documents."
	}
	env.Normalize()
	return env
}

func (r *Rules) firstMatch(field, text string) string {
	if text == "" {
		return ""
	}
	for _, re := range r.patterns[field] {
		m := re.FindStringSubmatch(text)
		if len(m) > 1 {
			if v := strings.TrimSpace(strings.Trim(m[1], " \t:;,.")); v != "" {
				return v
			}
		}
	}
	return ""
}

// ExtractDocument runs the embedded rules.
func ExtractDocument(oitText, quotationText string) oit.AIEnvelope {
	return defaultRules.ExtractDocument(oitText, quotationText)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
