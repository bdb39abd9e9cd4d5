package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
)

const labKey = "orders/x/lab_results/informe.txt"

func withLabFile(o *oit.Order) {
	o.LabResultsFile = labKey
	o.AIData.Data.Parameters = []string{"PM10"}
}

func TestRunLabAnalysis(t *testing.T) {
	tests := []struct {
		name        string
		reply       string
		wantStatus  oit.Status
		wantSummary string
		wantTitle   string
		wantReports []report.Format
	}{
		{
			name:        "flagged for review",
			reply:       `{"summary": "PM10 de 112 µg/m3 supera el límite", "requiresReview": true}`,
			wantStatus:  oit.StatusReviewNeeded,
			wantSummary: "PM10 de 112 µg/m3 supera el límite",
			wantTitle:   "Lab results need review",
		},
		{
			name:        "explicit flag beats the word Error",
			reply:       `{"summary": "Error relativo menor al 5%; PM10 dentro del límite", "requiresReview": false}`,
			wantStatus:  oit.StatusCompleted,
			wantSummary: "Error relativo menor al 5%; PM10 dentro del límite",
			wantTitle:   "Lab results analyzed",
			wantReports: []report.Format{report.FormatDocx},
		},
		{
			name:        "no flag, summary mentions Error",
			reply:       `{"summary": "Error en el código de muestra M-2"}`,
			wantStatus:  oit.StatusReviewNeeded,
			wantSummary: "Error en el código de muestra M-2",
			wantTitle:   "Lab results need review",
		},
		{
			name:        "plain text reply",
			reply:       "```\nPM10 dentro del límite en ambas estaciones.\n```",
			wantStatus:  oit.StatusCompleted,
			wantSummary: "PM10 dentro del límite en ambas estaciones.",
			wantTitle:   "Lab results analyzed",
			wantReports: []report.Format{report.FormatDocx},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var prompt string
			f.model.GenerateFn = func(_ context.Context, p string, _ llm.GenerateOptions) (string, error) {
				prompt = p
				return tt.reply, nil
			}
			o := f.seed(t, oit.StatusAnalyzing, withLabFile)
			f.put(t, labKey, "PM10 estación 1: 48 µg/m3")

			if err := f.p.RunLabAnalysis(context.Background(), o.ID, "u1"); err != nil {
				t.Fatal(err)
			}
			got := f.order(t, o.ID)
			if got.Status != tt.wantStatus || got.LabResultsAnalysis != tt.wantSummary {
				t.Errorf("status=%s summary=%q", got.Status, got.LabResultsAnalysis)
			}
			if !strings.Contains(prompt, "PARAMETERS ORDERED: PM10") || !strings.Contains(prompt, "48 µg/m3") {
				t.Errorf("prompt = %s", prompt)
			}
			if diff := cmp.Diff([]string{tt.wantTitle}, f.sent.Titles()); diff != "" {
				t.Errorf("notifications (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantReports, f.reports.calls); diff != "" {
				t.Errorf("reports (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunLabAnalysis_Heuristic(t *testing.T) {
	tests := []struct {
		name       string
		model      *llm.MockClient
		text       string
		wantStatus oit.Status
	}{
		{"unavailable, exceedance", &llm.MockClient{AvailableFn: unavailable}, "PM10: 112 µg/m3, excede la norma", oit.StatusReviewNeeded},
		{"call fails, clean", &llm.MockClient{GenerateFn: func(context.Context, string, llm.GenerateOptions) (string, error) {
			return "", errors.New("timeout")
		}}, "PM10: 48 µg/m3", oit.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.p.model = tt.model
			o := f.seed(t, oit.StatusAnalyzing, withLabFile)
			f.put(t, labKey, tt.text)

			if err := f.p.RunLabAnalysis(context.Background(), o.ID, "u1"); err != nil {
				t.Fatal(err)
			}
			got := f.order(t, o.ID)
			if got.Status != tt.wantStatus || got.LabResultsAnalysis == "" {
				t.Errorf("status=%s summary=%q", got.Status, got.LabResultsAnalysis)
			}
		})
	}
}

func TestRunLabAnalysis_ReportFailureKeepsStatus(t *testing.T) {
	f := newFixture(t)
	f.model.GenerateFn = func(context.Context, string, llm.GenerateOptions) (string, error) {
		return `{"summary": "Todo conforme", "requiresReview": false}`, nil
	}
	f.reports.generateFn = func(context.Context, string, report.Format, string) (string, error) {
		return "", errors.New("template missing")
	}
	o := f.seed(t, oit.StatusAnalyzing, withLabFile)
	f.put(t, labKey, "PM10: 48")

	if err := f.p.RunLabAnalysis(context.Background(), o.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.order(t, o.ID); got.Status != oit.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if len(f.reports.calls) != 1 {
		t.Errorf("report calls = %v", f.reports.calls)
	}
}

func TestRunLabAnalysis_NoFile(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, oit.StatusAnalyzing, nil)

	if err := f.p.RunLabAnalysis(context.Background(), o.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.order(t, o.ID); got.Status != oit.StatusReviewNeeded {
		t.Errorf("status = %s", got.Status)
	}
	if len(f.sent.Sent) != 1 || f.sent.Sent[0].Severity != oit.SeverityError {
		t.Errorf("notifications = %+v", f.sent.Sent)
	}
}

func TestRunFieldFormAnalysis(t *testing.T) {
	const key = "orders/x/field_form/planilla.txt"
	tests := []struct {
		name    string
		chat    func(ctx context.Context, prompt, model string) (string, error)
		body    string
		wantPre string
	}{
		{"model summary", func(context.Context, string, string) (string, error) {
			return "Planilla de campo: 2 estaciones, caudal 1.2 m3/min.", nil
		}, "Estación 1 caudal 1.2", "Planilla de campo: 2 estaciones"},
		{"model fails", func(context.Context, string, string) (string, error) {
			return "", errors.New("down")
		}, "Estación 1 caudal 1.2", "Field form summary (automatic"},
		{"unreadable scan", nil, "   ", "The field form has no readable text."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.model.ChatFn = tt.chat
			o := f.seed(t, oit.StatusInProgress, func(o *oit.Order) { o.FieldFormFile = key })
			f.put(t, key, tt.body)

			if err := f.p.RunFieldFormAnalysis(context.Background(), o.ID, "u1"); err != nil {
				t.Fatal(err)
			}
			got := f.order(t, o.ID)
			if !strings.HasPrefix(got.FieldFormAnalysis, tt.wantPre) {
				t.Errorf("analysis = %q", got.FieldFormAnalysis)
			}
			if got.Status != oit.StatusInProgress {
				t.Errorf("status changed to %s", got.Status)
			}
			if diff := cmp.Diff([]string{"Field form processed"}, f.sent.Titles()); diff != "" {
				t.Errorf("notifications (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunFieldFormAnalysis_NoFile(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, oit.StatusInProgress, nil)
	if err := f.p.RunFieldFormAnalysis(context.Background(), o.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(f.sent.Sent) != 0 || f.order(t, o.ID).FieldFormAnalysis != "" {
		t.Error("job without file must be a no-op")
	}
}
