package pipeline

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

//go:embed criteria.txt
var validationCriteria string

// Prompt size limits, in characters.
const (
	complianceAIDataLimit    = 5000
	complianceQuotationLimit = 10000
	standardsTotalLimit      = 30000
	standardEachLimit        = 2000
	consistencySourceLimit   = 8000
	labTextLimit             = 20000
	fieldFormTextLimit       = 15000
)

// AnalysisPrompt asks for the aiData envelope from the OIT and quotation texts.
const AnalysisPrompt = `You are an environmental engineering analyst at a sampling laboratory. Read the inspection work order (OIT) and the client quotation below and extract the order data.

Apply these validation criteria:
%s

EXTRACTION RULES:
- Copy names, numbers and addresses exactly as written. Do NOT invent data that is not in the documents.
- Dates in ISO format YYYY-MM-DD, times as HH:MM (24h).
- "type" is one of: EMISIONES, CALIDAD_AIRE, RUIDO, AGUA, SUELOS, OLORES, or "" when unclear.
- "resources" lists equipment the documents mention, as objects with a "name".
- Write "message", "errors" and "warnings" in Spanish.
- When "valid" is false, "errors" must contain at least one entry.

Return ONLY JSON in this format:
{
  "valid": true,
  "message": "short overall assessment",
  "data": {
    "oitNumber": "order number",
    "description": "one-paragraph description of the requested service",
    "status": "pending",
    "client": "client legal name",
    "clientNit": "NIT",
    "location": "site name and address",
    "city": "municipality",
    "type": "CALIDAD_AIRE",
    "serviceType": "service type as written",
    "parameters": ["PM10"],
    "proposedDate": "YYYY-MM-DD",
    "proposedTime": "HH:MM",
    "resources": [{"name": "equipment"}]
  },
  "errors": [],
  "warnings": []
}

OIT DOCUMENT:
%s

QUOTATION:
%s`

// CompliancePrompt checks an order against the applicable standards.
const CompliancePrompt = `You are a regulatory compliance auditor for environmental sampling in Colombia. Decide whether the order below can be executed in compliance with the listed standards.

ORDER TYPE: %s

ORDER SUMMARY:
%s

EXTRACTED ORDER DATA (JSON):
%s

QUOTATION TEXT:
%s

APPLICABLE STANDARDS:
%s

RULES:
- Only cite standards from the list above in "appliedStandards", by code.
- "issues" lists concrete gaps between the order and the standards.
- "exclusions" lists work the quotation explicitly leaves out of scope.
- "score" is 0-100: 100 means fully compliant, 0 means impossible to execute as ordered.
- Write "summary", "issues", "exclusions" and "recommendations" in Spanish.

Return ONLY JSON in this format:
{
  "compliant": true,
  "score": 85,
  "summary": "two or three sentences",
  "appliedStandards": ["code"],
  "exclusions": [],
  "issues": [],
  "recommendations": []
}`

// PlanningPrompt selects sampling templates and resources for an order.
const PlanningPrompt = `You are the field operations planner of an environmental sampling laboratory. Choose the sampling template(s) and equipment for the order below.

ORDER:
%s

TEMPLATE CATALOG (id | name | type | description):
%s

AVAILABLE EQUIPMENT (id | name | type):
%s

RULES:
- Select only ids that appear in the catalog. Prefer one template; select more only when the order covers several matrices.
- Select at most 5 pieces of equipment, only from the list above.
- "proposedDate" must be at least 3 days after %s, format YYYY-MM-DD. "proposedTime" as HH:MM.

Return ONLY JSON in this format:
{
  "templateIds": ["id"],
  "resourceIds": ["id"],
  "proposedDate": "YYYY-MM-DD",
  "proposedTime": "08:00",
  "estimatedDuration": "e.g. 2 días"
}`

// StepValidationPrompt judges the data captured for one sampling step.
const StepValidationPrompt = `You are a field quality supervisor reviewing one step of an environmental sampling campaign.

STEP: %s
DESCRIPTION: %s
REQUIREMENTS: %s

DATA CAPTURED BY THE FIELD ENGINEER (JSON):
%s

Decide whether the captured data satisfies the requirements. Missing mandatory values, impossible readings or units that do not match the requirement mean the step is NOT validated.
Write "feedback" in Spanish, addressed to the engineer, with the concrete correction when not validated.

Return ONLY JSON in this format:
{"validated": true, "feedback": "text", "confidence": 0.9}`

// FinalAnalysisPrompt asks for the narrative closing analysis of a campaign.
const FinalAnalysisPrompt = `You are the technical director of an environmental laboratory. Write the final analysis of the sampling campaign below for the client report.

ORDER: %s
DESCRIPTION: %s
LOCATION: %s

STEPS AND VALIDATIONS:
%s

SAMPLING DATA:
%s

Write 3 to 5 paragraphs in Spanish, formal register, plain text without markdown. Cover the work performed, data quality, any step that needed correction and the next steps (laboratory analysis and report). Do not invent measurements.`

// LabSummaryPrompt summarizes a laboratory results report.
const LabSummaryPrompt = `You are reviewing laboratory results for an environmental sampling order.

ORDER: %s
PARAMETERS ORDERED: %s

LAB REPORT TEXT:
%s

Summarize the results in Spanish: parameters reported, values against their limits, and any exceedance or anomaly.
Set "requiresReview" to true when any value exceeds its limit, a parameter is missing, the report is illegible, or the sample codes do not match the order.

Return ONLY JSON in this format:
{"summary": "text", "requiresReview": false}`

// FieldFormPrompt summarizes the scanned field form.
const FieldFormPrompt = `You are digitizing the field form of an environmental sampling campaign.

ORDER: %s

FIELD FORM TEXT:
%s

Write a concise summary in Spanish, plain text: stations and sample codes, dates and times, weather conditions, equipment and any incident noted by the field crew. Do not invent values.`

// ConsistencyPrompt cross-checks every document of an order.
const ConsistencyPrompt = `You are auditing the documents of an environmental sampling order for consistency before the final report is issued.

ORDER METADATA:
%s

SAMPLING DATA SUMMARY:
%s

LAB RESULTS TEXT:
%s

FIELD FORM TEXT:
%s

Flag ONLY critical mismatches of these classes:
- dates (sampling dates that differ between sources)
- location or client (different site, client name or NIT)
- parameters (parameters analyzed that were not sampled, or the reverse)
- sample codes (codes in the lab report that do not appear in the field data)
Ignore formatting differences, abbreviations and sections that are empty.
"severity" is "critical" or "warning". Write "detail" and "summary" in Spanish.

Return ONLY JSON in this format:
{
  "valid": true,
  "score": 95,
  "discrepancies": [{"field": "date", "severity": "critical", "sources": "lab vs field form", "detail": "text"}],
  "matches": ["client"],
  "summary": "text"
}`

func buildAnalysisPrompt(oitText, quotationText string) string {
	return fmt.Sprintf(AnalysisPrompt, validationCriteria, orNone(oitText), orNone(quotationText))
}

// orderSummary renders the identifying fields of an order for prompts.
func orderSummary(o *oit.Order) string {
	d := o.AIData.Data
	var b strings.Builder
	fmt.Fprintf(&b, "Number: %s\n", orNone(o.OITNumber))
	fmt.Fprintf(&b, "Description: %s\n", orNone(o.Description))
	fmt.Fprintf(&b, "Location: %s\n", orNone(o.Location))
	fmt.Fprintf(&b, "Client: %s (NIT %s)\n", orNone(d.Client), orNone(d.ClientNIT))
	fmt.Fprintf(&b, "City: %s\n", orNone(d.City))
	fmt.Fprintf(&b, "Service: %s %s\n", d.Type, d.ServiceType)
	if len(d.Parameters) > 0 {
		fmt.Fprintf(&b, "Parameters: %s\n", strings.Join(d.Parameters, ", "))
	}
	if d.ProposedDate != "" {
		fmt.Fprintf(&b, "Proposed date: %s %s\n", d.ProposedDate, d.ProposedTime)
	}
	return b.String()
}

// standardsBlock renders standards in full when they fit the total budget,
// otherwise each one is cut to standardEachLimit.
func standardsBlock(standards []oit.Standard) string {
	total := 0
	for _, s := range standards {
		total += len(s.Content)
	}
	var b strings.Builder
	for _, s := range standards {
		content := s.Content
		if total > standardsTotalLimit {
			content = clip(content, standardEachLimit)
		}
		fmt.Fprintf(&b, "### %s - %s (%s)\n%s\n\n", s.Code, s.Title, s.Category, content)
	}
	return b.String()
}

func templateCatalog(templates []oit.SamplingTemplate) string {
	var b strings.Builder
	for _, t := range templates {
		fmt.Fprintf(&b, "%s | %s | %s | %s\n", t.ID, t.Name, t.OrderType, clip(strings.ReplaceAll(t.Description, "\n", " "), 300))
	}
	return b.String()
}

func resourceCatalog(resources []oit.Resource) string {
	if len(resources) == 0 {
		return "(none available)"
	}
	var b strings.Builder
	for _, r := range resources {
		fmt.Fprintf(&b, "%s | %s | %s\n", r.ID, r.Name, r.Type)
	}
	return b.String()
}

// stepsBlock lists each planned step with its recorded validation.
func stepsBlock(steps []oit.Step, validations oit.StepValidations) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s", i+1, s.Title)
		if v, ok := validations[i]; ok {
			state := "not validated"
			if v.Validated {
				state = "validated"
			}
			fmt.Fprintf(&b, " [%s, confidence %.2f] %s", state, v.Confidence, v.Feedback)
		} else {
			b.WriteString(" [no validation]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
