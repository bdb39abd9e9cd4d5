// Package oit defines the inspection order record, its lifecycle statuses and
// the structured payloads each pipeline stage persists on it.
package oit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusUploading       Status = "UPLOADING"
	StatusAnalyzing       Status = "ANALYZING"
	StatusPending         Status = "PENDING"
	StatusReviewRequired  Status = "REVIEW_REQUIRED"
	StatusScheduled       Status = "SCHEDULED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusRedoRequired    Status = "REDO_REQUIRED"
	StatusReviewNeeded    Status = "REVIEW_NEEDED"
	StatusReviewImportant Status = "REVIEW_IMPORTANT"
	StatusCompleted       Status = "COMPLETED"
	StatusError           Status = "ERROR"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{
	StatusUploading, StatusAnalyzing, StatusPending, StatusReviewRequired,
	StatusScheduled, StatusInProgress, StatusRedoRequired, StatusReviewNeeded,
	StatusReviewImportant, StatusCompleted, StatusError,
}

// ErrInvalidTransition is returned when a stage attempts a transition the
// lifecycle graph does not allow.
var ErrInvalidTransition = eris.New("invalid status transition")

// validTransitions is the lifecycle graph. Only Order.ForceStatus may leave it.
var validTransitions = map[Status][]Status{
	StatusUploading:       {StatusAnalyzing, StatusError},
	StatusAnalyzing:       {StatusReviewRequired, StatusPending, StatusCompleted, StatusReviewNeeded, StatusError},
	StatusPending:         {StatusAnalyzing, StatusScheduled, StatusError},
	StatusReviewRequired:  {StatusAnalyzing, StatusScheduled, StatusPending, StatusInProgress},
	StatusScheduled:       {StatusInProgress, StatusAnalyzing, StatusPending},
	StatusInProgress:      {StatusRedoRequired, StatusCompleted, StatusAnalyzing},
	StatusRedoRequired:    {StatusInProgress, StatusCompleted},
	StatusReviewNeeded:    {StatusAnalyzing, StatusCompleted, StatusReviewImportant},
	StatusReviewImportant: {StatusAnalyzing, StatusCompleted},
	StatusCompleted:       {StatusAnalyzing, StatusReviewNeeded, StatusReviewImportant, StatusRedoRequired},
	StatusError:           {StatusAnalyzing, StatusPending},
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", eris.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether the lifecycle graph allows from -> to.
// Re-entering the current status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InProgress reports whether s marks a stage that is still running.
func (s Status) InProgress() bool {
	return s == StatusUploading || s == StatusAnalyzing
}

// Order is the aggregate root: one inspection/sampling work order.
type Order struct {
	ID          string `json:"id"`
	OITNumber   string `json:"oitNumber"`
	Status      Status `json:"status"`
	Description string `json:"description"`
	Location    string `json:"location"`
	QuotationID string `json:"quotationId,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`

	AIData              AIEnvelope          `json:"aiData"`
	PlanningProposal    *PlanningProposal   `json:"planningProposal,omitempty"`
	SamplingData        map[string]any      `json:"samplingData"`
	StepValidations     StepValidations     `json:"stepValidations"`
	SamplingProgress    SamplingProgress    `json:"samplingProgress"`
	FinalAnalysis       string              `json:"finalAnalysis,omitempty"`
	LabResultsAnalysis  string              `json:"labResultsAnalysis,omitempty"`
	FieldFormAnalysis   string              `json:"fieldFormAnalysis,omitempty"`
	Resources           []ResourceRef       `json:"resources"`
	SelectedTemplateIDs []string            `json:"selectedTemplateIds"`
	Compliance          *ComplianceResult   `json:"compliance,omitempty"`
	Consistency         *ConsistencyResult  `json:"consistency,omitempty"`

	OITFile         string `json:"oitFile,omitempty"`
	QuotationFile   string `json:"quotationFile,omitempty"`
	LabResultsFile  string `json:"labResultsFile,omitempty"`
	FieldFormFile   string `json:"fieldFormFile,omitempty"`
	FinalReportFile string `json:"finalReportFile,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewOrder returns an order in UPLOADING with a fresh id.
func NewOrder(createdBy, description string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:          uuid.NewString(),
		Status:      StatusUploading,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateOITNumber builds a placeholder order number for orders whose
// documents did not carry one.
func GenerateOITNumber(now time.Time) string {
	return fmt.Sprintf("OIT-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:4]))
}

// Transition moves the order to next if the lifecycle graph allows it.
func (o *Order) Transition(next Status) error {
	if !CanTransition(o.Status, next) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, next)
	}
	o.Status = next
	return nil
}

// ForceStatus is the admin override; it bypasses the lifecycle graph.
func (o *Order) ForceStatus(next Status) {
	o.Status = next
}

// TotalSteps returns the number of sampling steps in the accepted plan.
func (o *Order) TotalSteps() int {
	if n := len(o.AIData.Data.Steps); n > 0 {
		return n
	}
	if o.PlanningProposal != nil {
		return len(o.PlanningProposal.Steps)
	}
	return 0
}

// Steps returns the plan steps, preferring the merged AI data copy.
func (o *Order) Steps() []Step {
	if len(o.AIData.Data.Steps) > 0 {
		return o.AIData.Data.Steps
	}
	if o.PlanningProposal != nil {
		return o.PlanningProposal.Steps
	}
	return nil
}

// ResourcesToRelease is the union of the resource snapshot and the planned
// assignment, deduplicated by id. The two lists can diverge.
func (o *Order) ResourcesToRelease() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(refs []ResourceRef) {
		for _, r := range refs {
			id := string(r.ID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(o.Resources)
	add(o.AIData.Data.AssignedResources)
	return ids
}

// Clone returns a deep copy so stage code can mutate freely before a
// conditional write. Free-form maps are copied through a JSON round trip.
func (o *Order) Clone() *Order {
	c := *o
	c.AIData = o.AIData.clone()
	if o.PlanningProposal != nil {
		p := *o.PlanningProposal
		p.Steps = append([]Step(nil), o.PlanningProposal.Steps...)
		for i := range p.Steps {
			p.Steps[i].Fields = cloneMap(p.Steps[i].Fields)
		}
		p.TemplateIDs = cloneStrings(o.PlanningProposal.TemplateIDs)
		p.AssignedResources = append([]ResourceRef(nil), o.PlanningProposal.AssignedResources...)
		c.PlanningProposal = &p
	}
	c.SamplingData = cloneMap(o.SamplingData)
	c.StepValidations = o.StepValidations.clone()
	c.SamplingProgress = o.SamplingProgress.clone()
	c.Resources = append([]ResourceRef(nil), o.Resources...)
	c.SelectedTemplateIDs = cloneStrings(o.SelectedTemplateIDs)
	if o.Compliance != nil {
		cr := *o.Compliance
		cr.AppliedStandards = cloneStrings(cr.AppliedStandards)
		cr.Exclusions = cloneStrings(cr.Exclusions)
		cr.Issues = cloneStrings(cr.Issues)
		cr.Recommendations = cloneStrings(cr.Recommendations)
		c.Compliance = &cr
	}
	if o.Consistency != nil {
		cr := *o.Consistency
		cr.Discrepancies = append([]Discrepancy(nil), cr.Discrepancies...)
		cr.Matches = cloneStrings(cr.Matches)
		c.Consistency = &cr
	}
	return &c
}
