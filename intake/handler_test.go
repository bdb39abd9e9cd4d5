package main

import (
	"context"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/go-cmp/cmp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// ─── Mock Attacher ──────────────────────────────────────────────────────────

type attachCall struct {
	OrderID string
	Kind    storage.FileKind
	Key     string
}

type mockAttacher struct {
	attachFn func(ctx context.Context, orderID string, kind storage.FileKind, key string) error
	calls    []attachCall
}

func (m *mockAttacher) AttachFile(ctx context.Context, orderID string, kind storage.FileKind, key string) error {
	m.calls = append(m.calls, attachCall{orderID, kind, key})
	if m.attachFn != nil {
		return m.attachFn(ctx, orderID, kind, key)
	}
	return nil
}

func makeS3Event(keys ...string) events.S3Event {
	var event events.S3Event
	for _, k := range keys {
		var r events.S3EventRecord
		r.S3.Bucket.Name = "oit-files"
		r.S3.Object.Key = k
		event.Records = append(event.Records, r)
	}
	return event
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHandle_RoutesUploads(t *testing.T) {
	m := &mockAttacher{}
	h := &Handler{attacher: m, logger: zap.NewNop()}

	err := h.Handle(context.Background(), makeS3Event(
		"orders/o1/oit/OIT+2024-117.pdf",
		"orders/o1/lab/informe%20lab.pdf",
		"orders/o1/reports/informe.docx",
		"templates/base.docx",
		"orders/o1/unknown/x.pdf",
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []attachCall{
		{"o1", storage.KindOIT, "orders/o1/oit/OIT 2024-117.pdf"},
		{"o1", storage.KindLab, "orders/o1/lab/informe lab.pdf"},
	}
	if diff := cmp.Diff(want, m.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"order deleted", eris.Wrap(store.ErrNotFound, "load order"), false},
		{"status refuses upload", eris.Wrap(oit.ErrInvalidTransition, "REDO_REQUIRED -> ANALYZING"), false},
		{"transient", eris.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockAttacher{attachFn: func(context.Context, string, storage.FileKind, string) error {
				return tt.err
			}}
			h := &Handler{attacher: m, logger: zap.NewNop()}
			err := h.Handle(context.Background(), makeS3Event("orders/o1/oit/a.pdf", "orders/o2/quotation/b.pdf"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			wantCalls := 2
			if tt.wantErr {
				wantCalls = 1
			}
			if len(m.calls) != wantCalls {
				t.Errorf("calls = %d, want %d", len(m.calls), wantCalls)
			}
		})
	}
}
