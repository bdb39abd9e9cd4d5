package oit

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusUploading, StatusAnalyzing, true},
		{StatusAnalyzing, StatusReviewRequired, true},
		{StatusAnalyzing, StatusError, true},
		{StatusReviewRequired, StatusScheduled, true},
		{StatusScheduled, StatusInProgress, true},
		{StatusInProgress, StatusRedoRequired, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusAnalyzing, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusUploading, StatusCompleted, false},
		{StatusError, StatusCompleted, false},
		{StatusScheduled, StatusUploading, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOrder_Transition(t *testing.T) {
	o := NewOrder("u1", "air quality")
	if err := o.Transition(StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if o.Status != StatusUploading {
		t.Errorf("status changed on rejected transition: %s", o.Status)
	}
	if err := o.Transition(StatusAnalyzing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.ForceStatus(StatusCompleted)
	if o.Status != StatusCompleted {
		t.Errorf("ForceStatus did not apply: %s", o.Status)
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" review_needed "); err != nil || st != StatusReviewNeeded {
		t.Errorf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("DONE"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestSamplingProgress_CompleteIsMonotonicAndDeduplicated(t *testing.T) {
	var p SamplingProgress
	for i := 0; i < 4; i++ {
		p.Complete(i)
	}
	p.Complete(2)
	if diff := cmp.Diff([]int{0, 1, 2, 3}, p.CompletedSteps); diff != "" {
		t.Errorf("completed steps (-want +got):\n%s", diff)
	}
	if p.CurrentStep != 4 {
		t.Errorf("currentStep = %d, want 4", p.CurrentStep)
	}
}

func TestSamplingProgress_Redo(t *testing.T) {
	p := SamplingProgress{CurrentStep: 3, CompletedSteps: []int{0, 1, 2}}
	at := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	p.Redo([]int{1}, "blurry photos", "admin", at)

	if diff := cmp.Diff([]int{0, 2}, p.CompletedSteps); diff != "" {
		t.Errorf("completed steps (-want +got):\n%s", diff)
	}
	if p.CurrentStep != 1 {
		t.Errorf("currentStep = %d, want 1", p.CurrentStep)
	}
	want := []RedoRequest{{Steps: []int{1}, Reason: "blurry photos", RequestedBy: "admin", Timestamp: at}}
	if diff := cmp.Diff(want, p.RedoRequests); diff != "" {
		t.Errorf("redo requests (-want +got):\n%s", diff)
	}
}

func TestAIData_KeepsUnknownKeys(t *testing.T) {
	raw := `{"oitNumber":"OIT-1","description":"noise","status":"ok","resources":[],"legacyScore":7,"notes":{"a":1}}`
	var d AIData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	d.MergePlan(PlanningProposal{TemplateName: "Noise"})

	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	json.Unmarshal(out, &got)
	if got["legacyScore"] != float64(7) {
		t.Errorf("legacyScore lost: %v", got["legacyScore"])
	}
	if got["templateName"] != "Noise" {
		t.Errorf("templateName = %v", got["templateName"])
	}
	if got["oitNumber"] != "OIT-1" {
		t.Errorf("oitNumber = %v", got["oitNumber"])
	}
}

func TestResourceRef_AcceptsStringsAndNumericIDs(t *testing.T) {
	var refs []ResourceRef
	if err := json.Unmarshal([]byte(`["Sonometer", {"id": 12, "name": "GPS"}, {"id": "A"}]`), &refs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []ResourceRef{{Name: "Sonometer"}, {ID: "12", Name: "GPS"}, {ID: "A"}}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("refs (-want +got):\n%s", diff)
	}
}

func TestOrder_ResourcesToRelease(t *testing.T) {
	o := &Order{Resources: []ResourceRef{{ID: "A"}}}
	o.AIData.Data.AssignedResources = []ResourceRef{{ID: "A"}, {ID: "B"}, {Name: "no id"}}
	if diff := cmp.Diff([]string{"A", "B"}, o.ResourcesToRelease()); diff != "" {
		t.Errorf("release ids (-want +got):\n%s", diff)
	}
}

func TestDecodePayload_Tolerant(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		ok   bool
	}{
		{"nil", nil, false},
		{"empty", "", false},
		{"null", "null", false},
		{"garbage", "{not json", false},
		{"bytes", []byte(`{"currentStep":2}`), true},
		{"decoded jsonb", map[string]any{"currentStep": 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p SamplingProgress
			if got := DecodePayload(tt.raw, &p); got != tt.ok {
				t.Errorf("DecodePayload ok = %v, want %v", got, tt.ok)
			}
			if tt.ok && p.CurrentStep != 2 {
				t.Errorf("currentStep = %d", p.CurrentStep)
			}
		})
	}
}

func TestAIEnvelope_Normalize(t *testing.T) {
	e := AIEnvelope{Valid: false}
	e.Normalize()
	if len(e.Errors) != 1 {
		t.Errorf("expected synthesized error, got %v", e.Errors)
	}
	if e.Warnings == nil {
		t.Error("warnings must not be nil")
	}
	if e.Message == "" {
		t.Error("message must be set")
	}
}

func TestOrder_CloneIsDeep(t *testing.T) {
	o := NewOrder("u1", "d")
	o.SamplingProgress.CompletedSteps = []int{0}
	o.StepValidations = StepValidations{0: {Validated: true, Data: map[string]any{"ph": 7.0}}}
	c := o.Clone()
	c.SamplingProgress.CompletedSteps[0] = 9
	c.StepValidations[0].Data["ph"] = 1.0
	if o.SamplingProgress.CompletedSteps[0] != 0 {
		t.Error("clone shares completed steps")
	}
	if o.StepValidations[0].Data["ph"] != 7.0 {
		t.Error("clone shares validation data")
	}
}

func TestOrder_CloneCopiesProposalAndResults(t *testing.T) {
	o := NewOrder("u1", "d")
	o.PlanningProposal = &PlanningProposal{
		Steps: []Step{{Type: "sampling", Title: "Punto 1", Fields: map[string]any{"ph": 7.0}}},
	}
	o.Compliance = &ComplianceResult{Issues: []string{"falta permiso"}}
	o.Consistency = &ConsistencyResult{Matches: []string{"cliente"}}

	c := o.Clone()
	c.PlanningProposal.Steps[0].Fields["ph"] = 1.0
	c.PlanningProposal.Steps[0].Title = "cambiado"
	c.Compliance.Issues[0] = "cambiado"
	c.Consistency.Matches[0] = "cambiado"

	if o.PlanningProposal.Steps[0].Fields["ph"] != 7.0 {
		t.Error("clone shares step fields")
	}
	if o.PlanningProposal.Steps[0].Title != "Punto 1" {
		t.Error("clone shares steps")
	}
	if o.Compliance.Issues[0] != "falta permiso" {
		t.Error("clone shares compliance issues")
	}
	if o.Consistency.Matches[0] != "cliente" {
		t.Error("clone shares consistency matches")
	}
}
