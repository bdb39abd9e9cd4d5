package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

var (
	_ Sink = (*Store)(nil)
	_ Sink = Discard{}
	_ Sink = (*Recorder)(nil)
)

type mockInserter struct {
	insertFn func(ctx context.Context, n oit.Notification) error
	got      []oit.Notification
}

func (m *mockInserter) InsertNotification(ctx context.Context, n oit.Notification) error {
	m.got = append(m.got, n)
	if m.insertFn != nil {
		return m.insertFn(ctx, n)
	}
	return nil
}

func TestStore_FillsDefaults(t *testing.T) {
	db := &mockInserter{}
	NewStore(db, zap.NewNop()).Notify(context.Background(), oit.Notification{UserID: "u1", Title: "Analysis complete", OrderID: "o1"})

	if len(db.got) != 1 {
		t.Fatalf("inserted %d", len(db.got))
	}
	n := db.got[0]
	if n.ID == "" || n.CreatedAt.IsZero() || n.Severity != oit.SeverityInfo {
		t.Errorf("defaults not filled: %+v", n)
	}
}

func TestStore_SwallowsErrors(t *testing.T) {
	db := &mockInserter{insertFn: func(context.Context, oit.Notification) error { return errors.New("db down") }}
	// must not panic or propagate
	NewStore(db, nil).Notify(context.Background(), oit.Notification{UserID: "u1", Title: "x"})
	if len(db.got) != 1 {
		t.Errorf("inserted %d", len(db.got))
	}
}

func TestStore_NoRecipient(t *testing.T) {
	db := &mockInserter{}
	NewStore(db, nil).Notify(context.Background(), oit.Notification{Title: "x"})
	if len(db.got) != 0 {
		t.Errorf("expected drop, got %d inserts", len(db.got))
	}
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen error
	db := &mockInserter{insertFn: func(ctx context.Context, _ oit.Notification) error {
		seen = ctx.Err()
		return seen
	}}
	NewStore(db, nil).Notify(ctx, oit.Notification{UserID: "u1"})
	if seen != nil {
		t.Errorf("insert saw cancelled context: %v", seen)
	}
}

func TestMany(t *testing.T) {
	rec := &Recorder{}
	Many(context.Background(), rec, []string{"a", "", "b", "a"}, oit.Notification{Title: "Redo requested"})

	var users []string
	for _, n := range rec.Sent {
		users = append(users, n.UserID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, users); diff != "" {
		t.Errorf("recipients (-want +got):\n%s", diff)
	}
}
