package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
)

// ─── Mock Runner ────────────────────────────────────────────────────────────

type mockRunner struct {
	handleJobFn func(ctx context.Context, job queue.Job) error
	reconcileFn func(ctx context.Context, stuckAfter time.Duration) (int, error)

	jobs       []queue.Job
	stuckAfter []time.Duration
}

func (m *mockRunner) HandleJob(ctx context.Context, job queue.Job) error {
	m.jobs = append(m.jobs, job)
	if m.handleJobFn != nil {
		return m.handleJobFn(ctx, job)
	}
	return nil
}

func (m *mockRunner) Reconcile(ctx context.Context, stuckAfter time.Duration) (int, error) {
	m.stuckAfter = append(m.stuckAfter, stuckAfter)
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx, stuckAfter)
	}
	return 0, nil
}

func newTestHandler(m *mockRunner) *Handler {
	return &Handler{runner: m, stuckAfter: 30 * time.Minute, logger: zap.NewNop()}
}

func makeSQSEvent(t *testing.T, bodies map[string]string) json.RawMessage {
	t.Helper()
	var event events.SQSEvent
	for _, id := range []string{"m1", "m2", "m3"} {
		if body, ok := bodies[id]; ok {
			event.Records = append(event.Records, events.SQSMessage{MessageId: id, Body: body})
		}
	}
	b, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHandle_Jobs(t *testing.T) {
	m := &mockRunner{handleJobFn: func(_ context.Context, job queue.Job) error {
		if job.OrderID == "o2" {
			return eris.New("pool exhausted")
		}
		return nil
	}}
	h := newTestHandler(m)

	resp, err := h.Handle(context.Background(), makeSQSEvent(t, map[string]string{
		"m1": `{"kind":"analyze","orderId":"o1","userId":"u1"}`,
		"m2": `{"kind":"report","orderId":"o2","format":"pdf"}`,
		"m3": `{"kind":"teleport","orderId":"o3"}`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantJobs := []queue.Job{
		{Kind: queue.KindAnalyze, OrderID: "o1", UserID: "u1"},
		{Kind: queue.KindReport, OrderID: "o2", Format: "pdf"},
	}
	if diff := cmp.Diff(wantJobs, m.jobs); diff != "" {
		t.Errorf("jobs (-want +got):\n%s", diff)
	}
	wantFailures := []events.SQSBatchItemFailure{{ItemIdentifier: "m2"}}
	if diff := cmp.Diff(wantFailures, resp.BatchItemFailures); diff != "" {
		t.Errorf("failures (-want +got):\n%s", diff)
	}
}

func TestHandle_Scheduled(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		err     error
		wantErr bool
	}{
		{"eventbridge source", `{"source":"aws.events","detail-type":"Scheduled Event","detail":{}}`, nil, false},
		{"detail type only", `{"detail-type":"Scheduled Event"}`, nil, false},
		{"sweep fails", `{"source":"aws.events"}`, eris.New("db down"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockRunner{reconcileFn: func(context.Context, time.Duration) (int, error) {
				return 2, tt.err
			}}
			h := newTestHandler(m)
			_, err := h.Handle(context.Background(), json.RawMessage(tt.event))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff([]time.Duration{30 * time.Minute}, m.stuckAfter); diff != "" {
				t.Errorf("reconcile calls (-want +got):\n%s", diff)
			}
			if len(m.jobs) != 0 {
				t.Errorf("jobs = %v", m.jobs)
			}
		})
	}
}

func TestHandle_InvalidEvent(t *testing.T) {
	h := newTestHandler(&mockRunner{})
	if _, err := h.Handle(context.Background(), json.RawMessage(`[1,2`)); err == nil {
		t.Fatal("expected error for malformed event")
	}
}
