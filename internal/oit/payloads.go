package oit

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AIEnvelope is the {valid, message, data, errors, warnings} shape returned by
// every extraction call and persisted as the order's aiData column.
type AIEnvelope struct {
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Data     AIData   `json:"data"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Normalize guarantees the envelope shape: non-nil slices and at least one
// error when the extraction is declared invalid.
func (e *AIEnvelope) Normalize() {
	if e.Errors == nil {
		e.Errors = []string{}
	}
	if e.Warnings == nil {
		e.Warnings = []string{}
	}
	if !e.Valid && len(e.Errors) == 0 {
		e.Errors = append(e.Errors, "The documents could not be validated; review the extracted fields manually.")
	}
	if e.Message == "" {
		if e.Valid {
			e.Message = "Documents analyzed successfully."
		} else {
			e.Message = "Documents analyzed with errors."
		}
	}
}

func (e AIEnvelope) clone() AIEnvelope {
	c := e
	c.Errors = cloneStrings(e.Errors)
	c.Warnings = cloneStrings(e.Warnings)
	c.Data = e.Data.Clone()
	return c
}

// cloneStrings copies s, keeping an empty non-nil slice non-nil so it still
// encodes as [].
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append(make([]string, 0, len(s)), s...)
}

// AIData is the data object inside the aiData envelope. Extraction fills the
// document fields, planning merges the plan fields. Keys this struct does not
// know about are kept in Extra so a read-modify-write never drops them.
type AIData struct {
	OITNumber    string        `json:"oitNumber"`
	Description  string        `json:"description"`
	Status       string        `json:"status"`
	Client       string        `json:"client,omitempty"`
	ClientNIT    string        `json:"clientNit,omitempty"`
	Location     string        `json:"location,omitempty"`
	City         string        `json:"city,omitempty"`
	Type         string        `json:"type,omitempty"`
	ServiceType  string        `json:"serviceType,omitempty"`
	Parameters   []string      `json:"parameters,omitempty"`
	ProposedDate string        `json:"proposedDate,omitempty"`
	ProposedTime string        `json:"proposedTime,omitempty"`
	Resources    []ResourceRef `json:"resources"`

	TemplateIDs       []string      `json:"templateIds,omitempty"`
	TemplateName      string        `json:"templateName,omitempty"`
	Steps             []Step        `json:"steps,omitempty"`
	AssignedResources []ResourceRef `json:"assignedResources,omitempty"`
	EstimatedDuration string        `json:"estimatedDuration,omitempty"`

	Extra map[string]any `json:"-"`
}

var aiDataKeys = []string{
	"oitNumber", "description", "status", "client", "clientNit", "location", "city",
	"type", "serviceType", "parameters", "proposedDate", "proposedTime", "resources",
	"templateIds", "templateName", "steps", "assignedResources", "estimatedDuration",
}

type aiDataAlias AIData

func (d *AIData) UnmarshalJSON(b []byte) error {
	var alias aiDataAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range aiDataKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}
	*d = AIData(alias)
	return nil
}

func (d AIData) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(aiDataAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return b, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone deep-copies the data object.
func (d AIData) Clone() AIData {
	c := d
	c.Parameters = append([]string(nil), d.Parameters...)
	c.Resources = append([]ResourceRef(nil), d.Resources...)
	c.TemplateIDs = append([]string(nil), d.TemplateIDs...)
	c.Steps = append([]Step(nil), d.Steps...)
	c.AssignedResources = append([]ResourceRef(nil), d.AssignedResources...)
	c.Extra = cloneMap(d.Extra)
	return c
}

// MergeExtraction spreads newly extracted fields over d, keeping previous
// values where the new extraction came back empty.
func (d *AIData) MergeExtraction(n AIData) {
	setIf := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setIf(&d.OITNumber, n.OITNumber)
	setIf(&d.Description, n.Description)
	setIf(&d.Status, n.Status)
	setIf(&d.Client, n.Client)
	setIf(&d.ClientNIT, n.ClientNIT)
	setIf(&d.Location, n.Location)
	setIf(&d.City, n.City)
	setIf(&d.Type, n.Type)
	setIf(&d.ServiceType, n.ServiceType)
	setIf(&d.ProposedDate, n.ProposedDate)
	setIf(&d.ProposedTime, n.ProposedTime)
	if len(n.Parameters) > 0 {
		d.Parameters = n.Parameters
	}
	if len(n.Resources) > 0 {
		d.Resources = n.Resources
	}
	for k, v := range n.Extra {
		if d.Extra == nil {
			d.Extra = make(map[string]any)
		}
		d.Extra[k] = v
	}
}

// MergePlan spreads a planning proposal over d without touching the
// extraction fields.
func (d *AIData) MergePlan(p PlanningProposal) {
	d.TemplateIDs = append([]string(nil), p.TemplateIDs...)
	d.TemplateName = p.TemplateName
	d.Steps = append([]Step(nil), p.Steps...)
	d.AssignedResources = append([]ResourceRef(nil), p.AssignedResources...)
	d.EstimatedDuration = p.EstimatedDuration
	if p.ProposedDate != "" {
		d.ProposedDate = p.ProposedDate
	}
	if p.ProposedTime != "" {
		d.ProposedTime = p.ProposedTime
	}
}

// FlexString accepts a JSON string or number. Resource ids in stored payloads
// come in both forms.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// ResourceRef points at an inventory resource from plan or assignment JSON.
type ResourceRef struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name,omitempty"`
	Type string     `json:"type,omitempty"`
}

type resourceRefAlias ResourceRef

// UnmarshalJSON accepts either an object or a bare name string, which is what
// the language model tends to return for resources.
func (r *ResourceRef) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, `"`) {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*r = ResourceRef{Name: name}
		return nil
	}
	var alias resourceRefAlias
	if err := json.Unmarshal(b, &alias); err != nil {
		return err
	}
	*r = ResourceRef(alias)
	return nil
}

// Step is one entry of a sampling checklist.
type Step struct {
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Required     bool           `json:"required"`
	Description  string         `json:"description,omitempty"`
	Requirements string         `json:"requirements,omitempty"`
	TemplateID   string         `json:"templateId,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

// PlanningProposal is the output of the planning stage.
type PlanningProposal struct {
	TemplateIDs       []string      `json:"templateIds"`
	TemplateName      string        `json:"templateName"`
	ProposedDate      string        `json:"proposedDate"`
	ProposedTime      string        `json:"proposedTime"`
	Steps             []Step        `json:"steps"`
	AssignedResources []ResourceRef `json:"assignedResources"`
	EstimatedDuration string        `json:"estimatedDuration"`
}

// StepValidation is the recorded judgment for one sampling step.
type StepValidation struct {
	Validated    bool           `json:"validated"`
	Feedback     string         `json:"feedback"`
	Confidence   float64        `json:"confidence"`
	Data         map[string]any `json:"data"`
	Timestamp    time.Time      `json:"timestamp"`
	RedoRequired bool           `json:"redoRequired,omitempty"`
}

// StepValidations maps step index to its latest validation.
type StepValidations map[int]StepValidation

func (v StepValidations) clone() StepValidations {
	if v == nil {
		return nil
	}
	c := make(StepValidations, len(v))
	for k, sv := range v {
		sv.Data = cloneMap(sv.Data)
		c[k] = sv
	}
	return c
}

// Indices returns the recorded step indices in ascending order.
func (v StepValidations) Indices() []int {
	idx := make([]int, 0, len(v))
	for k := range v {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// RedoRequest records one admin request to repeat steps.
type RedoRequest struct {
	Steps       []int     `json:"steps"`
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requestedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// SamplingProgress tracks field work across steps.
type SamplingProgress struct {
	CurrentStep    int           `json:"currentStep"`
	CompletedSteps []int         `json:"completedSteps"`
	RedoRequests   []RedoRequest `json:"redoRequests"`
}

func (p SamplingProgress) clone() SamplingProgress {
	c := p
	c.CompletedSteps = append([]int(nil), p.CompletedSteps...)
	c.RedoRequests = append([]RedoRequest(nil), p.RedoRequests...)
	return c
}

// IsCompleted reports whether idx is in the completed set.
func (p *SamplingProgress) IsCompleted(idx int) bool {
	for _, c := range p.CompletedSteps {
		if c == idx {
			return true
		}
	}
	return false
}

// Complete adds idx to the completed set and moves currentStep forward.
// currentStep never moves backwards here.
func (p *SamplingProgress) Complete(idx int) {
	if !p.IsCompleted(idx) {
		p.CompletedSteps = append(p.CompletedSteps, idx)
		sort.Ints(p.CompletedSteps)
	}
	if idx+1 > p.CurrentStep {
		p.CurrentStep = idx + 1
	}
}

// Redo removes indices from the completed set, logs the request and moves
// currentStep back to the lowest redone index.
func (p *SamplingProgress) Redo(indices []int, reason, requestedBy string, at time.Time) {
	if len(indices) == 0 {
		return
	}
	drop := make(map[int]bool, len(indices))
	lowest := indices[0]
	for _, i := range indices {
		drop[i] = true
		if i < lowest {
			lowest = i
		}
	}
	kept := p.CompletedSteps[:0:0]
	for _, c := range p.CompletedSteps {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	p.CompletedSteps = kept
	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	p.RedoRequests = append(p.RedoRequests, RedoRequest{
		Steps:       sorted,
		Reason:      reason,
		RequestedBy: requestedBy,
		Timestamp:   at,
	})
	p.CurrentStep = lowest
}

// ComplianceResult is the verdict of the compliance stage.
type ComplianceResult struct {
	Compliant        bool      `json:"compliant"`
	Score            int       `json:"score"`
	OITType          string    `json:"oitType"`
	Summary          string    `json:"summary"`
	AppliedStandards []string  `json:"appliedStandards"`
	Exclusions       []string  `json:"exclusions"`
	Issues           []string  `json:"issues"`
	Recommendations  []string  `json:"recommendations"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// Discrepancy is one cross-document mismatch.
type Discrepancy struct {
	Field    string `json:"field"`
	Severity string `json:"severity"`
	Sources  string `json:"sources"`
	Detail   string `json:"detail"`
}

// ConsistencyResult is the cross-check verdict over all order documents.
type ConsistencyResult struct {
	Valid         bool          `json:"valid"`
	Score         int           `json:"score"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	Matches       []string      `json:"matches"`
	Summary       string        `json:"summary"`
	CheckedAt     time.Time     `json:"checkedAt"`
}

// ParseStepIndex parses a path parameter into a non-negative step index.
func ParseStepIndex(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
