package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
)

func panickingExtractor() *plainExtractor {
	return &plainExtractor{extractFn: func(context.Context, []byte, string) string {
		panic("pdf parser crashed")
	}}
}

func TestHandleJob_PanicIsContained(t *testing.T) {
	tests := []struct {
		name       string
		kind       queue.Kind
		mutate     func(o *oit.Order)
		key        string
		wantStatus oit.Status
		wantTitle  string
	}{
		{"analysis", queue.KindAnalyze, func(o *oit.Order) { o.OITFile = "orders/x/oit/a.pdf" }, "orders/x/oit/a.pdf", oit.StatusError, "Document analysis failed"},
		{"lab", queue.KindLab, func(o *oit.Order) { o.LabResultsFile = "orders/x/lab/l.pdf" }, "orders/x/lab/l.pdf", oit.StatusReviewNeeded, "Lab analysis failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.p.extractor = panickingExtractor()
			o := f.seed(t, oit.StatusAnalyzing, tt.mutate)
			f.put(t, tt.key, "%PDF-1.7")

			if err := f.p.HandleJob(context.Background(), queue.Job{Kind: tt.kind, OrderID: o.ID, UserID: "u1"}); err != nil {
				t.Fatalf("HandleJob returned %v", err)
			}
			if got := f.order(t, o.ID); got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if len(f.sent.Sent) != 1 || f.sent.Sent[0].Title != tt.wantTitle || !strings.Contains(f.sent.Sent[0].Message, "pdf parser crashed") {
				t.Errorf("notifications = %+v", f.sent.Sent)
			}
		})
	}
}

func TestHandleJob_MissingOrderIsDropped(t *testing.T) {
	for _, kind := range []queue.Kind{queue.KindAnalyze, queue.KindLab, queue.KindFieldForm, queue.KindCompliance, queue.KindPlanning} {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			if err := f.p.HandleJob(context.Background(), queue.Job{Kind: kind, OrderID: "gone", UserID: "u1"}); err != nil {
				t.Errorf("err = %v", err)
			}
			if len(f.sent.Sent) != 0 {
				t.Errorf("notifications = %+v", f.sent.Sent)
			}
		})
	}
}

func TestHandleJob_Report(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		genErr    error
		wantCalls []report.Format
		wantTitle []string
	}{
		{"default format", "", nil, []report.Format{report.FormatDocx}, []string{}},
		{"pdf", "PDF", nil, []report.Format{report.FormatPDF}, []string{}},
		{"unsupported format", "odt", nil, nil, []string{"Report generation failed"}},
		{"generator fails", "docx", errors.New("template not found"), []report.Format{report.FormatDocx}, []string{"Report generation failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.genErr != nil {
				f.reports.generateFn = func(context.Context, string, report.Format, string) (string, error) {
					return "", tt.genErr
				}
			}
			o := f.seed(t, oit.StatusCompleted, nil)

			if err := f.p.HandleJob(context.Background(), queue.Job{Kind: queue.KindReport, OrderID: o.ID, UserID: "u1", Format: tt.format}); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.wantCalls, f.reports.calls); diff != "" {
				t.Errorf("generator calls (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantTitle, f.sent.Titles()); diff != "" {
				t.Errorf("notifications (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleJob_Planning(t *testing.T) {
	f := newFixture(t)
	seedInventory(f.store)
	o := f.seed(t, oit.StatusReviewRequired, nil)

	if err := f.p.HandleJob(context.Background(), queue.Job{Kind: queue.KindPlanning, OrderID: o.ID}); err != nil {
		t.Fatal(err)
	}
	if got := f.order(t, o.ID); got.PlanningProposal == nil || got.PlanningProposal.TemplateName != genericPlanName {
		t.Errorf("proposal = %+v", got.PlanningProposal)
	}
}

func TestAttachFile(t *testing.T) {
	tests := []struct {
		name       string
		status     oit.Status
		mutate     func(o *oit.Order)
		kind       storage.FileKind
		wantStatus oit.Status
		wantJobs   []queue.Kind
		check      func(t *testing.T, o *oit.Order)
	}{
		{
			name: "oit document starts analysis", status: oit.StatusUploading,
			kind: storage.KindOIT, wantStatus: oit.StatusAnalyzing, wantJobs: []queue.Kind{queue.KindAnalyze},
			check: func(t *testing.T, o *oit.Order) {
				if o.OITFile != "k" {
					t.Errorf("OITFile = %q", o.OITFile)
				}
			},
		},
		{
			name: "oit while analyzing is recorded only", status: oit.StatusAnalyzing,
			kind: storage.KindOIT, wantStatus: oit.StatusAnalyzing, wantJobs: []queue.Kind{},
		},
		{
			name: "late quotation re-runs analysis", status: oit.StatusReviewRequired,
			mutate: func(o *oit.Order) { o.OITFile = "oit.pdf" },
			kind:   storage.KindQuotation, wantStatus: oit.StatusAnalyzing, wantJobs: []queue.Kind{queue.KindAnalyze},
		},
		{
			name: "quotation after scheduling is recorded only", status: oit.StatusScheduled,
			mutate: func(o *oit.Order) { o.OITFile = "oit.pdf" },
			kind:   storage.KindQuotation, wantStatus: oit.StatusScheduled, wantJobs: []queue.Kind{},
			check: func(t *testing.T, o *oit.Order) {
				if o.QuotationFile != "k" {
					t.Errorf("QuotationFile = %q", o.QuotationFile)
				}
			},
		},
		{
			name: "quotation before the oit waits", status: oit.StatusUploading,
			kind: storage.KindQuotation, wantStatus: oit.StatusUploading, wantJobs: []queue.Kind{},
		},
		{
			name: "lab results start lab analysis", status: oit.StatusCompleted,
			kind: storage.KindLab, wantStatus: oit.StatusAnalyzing, wantJobs: []queue.Kind{queue.KindLab},
		},
		{
			name: "field form keeps status", status: oit.StatusInProgress,
			kind: storage.KindFieldForm, wantStatus: oit.StatusInProgress, wantJobs: []queue.Kind{queue.KindFieldForm},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.seed(t, tt.status, tt.mutate)

			if err := f.p.AttachFile(context.Background(), o.ID, tt.kind, "k"); err != nil {
				t.Fatal(err)
			}
			got := f.order(t, o.ID)
			if got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantJobs, f.jobs.Kinds()); diff != "" {
				t.Errorf("jobs (-want +got):\n%s", diff)
			}
			for _, j := range f.jobs.Jobs {
				if j.UserID != "u1" || j.OrderID != o.ID {
					t.Errorf("job = %+v", j)
				}
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestAttachFile_Rejected(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, oit.StatusRedoRequired, nil)
	ctx := context.Background()

	if err := f.p.AttachFile(ctx, o.ID, storage.KindReport, "k"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("report kind err = %v", err)
	}
	if err := f.p.AttachFile(ctx, o.ID, storage.KindLab, "k"); !errors.Is(err, oit.ErrInvalidTransition) {
		t.Errorf("lab during redo err = %v", err)
	}
	if got := f.order(t, o.ID); got.LabResultsFile != "" || len(f.jobs.Jobs) != 0 {
		t.Errorf("rejected attach changed the order: %+v", got)
	}
}

func TestAttachFile_EnqueueFailure(t *testing.T) {
	tests := []struct {
		kind       storage.FileKind
		status     oit.Status
		wantStatus oit.Status
	}{
		{storage.KindOIT, oit.StatusUploading, oit.StatusError},
		{storage.KindLab, oit.StatusCompleted, oit.StatusReviewNeeded},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t)
			f.jobs.Err = errors.New("sqs throttled")
			o := f.seed(t, tt.status, nil)

			if err := f.p.AttachFile(context.Background(), o.ID, tt.kind, "k"); err == nil {
				t.Fatal("expected error")
			}
			if got := f.order(t, o.ID); got.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if len(f.sent.Sent) != 1 || f.sent.Sent[0].UserID != "u1" {
				t.Errorf("notifications = %+v", f.sent.Sent)
			}
		})
	}
}

func TestStartAnalysis(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bare := f.seed(t, oit.StatusUploading, nil)
	if _, err := f.p.StartAnalysis(ctx, bare.ID, "u1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("without document err = %v", err)
	}

	o := f.seed(t, oit.StatusError, func(o *oit.Order) { o.OITFile = "oit.pdf" })
	got, err := f.p.StartAnalysis(ctx, o.ID, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != oit.StatusAnalyzing {
		t.Errorf("status = %s", got.Status)
	}
	want := []queue.Job{{Kind: queue.KindAnalyze, OrderID: o.ID, UserID: "admin"}}
	if diff := cmp.Diff(want, f.jobs.Jobs); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
}
