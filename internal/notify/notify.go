// Package notify delivers user notifications. Delivery is fire-and-forget:
// a failed insert is logged and never reaches the calling stage.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// Sink accepts notifications.
type Sink interface {
	Notify(ctx context.Context, n oit.Notification)
}

// Inserter is the store method the Store sink needs.
type Inserter interface {
	InsertNotification(ctx context.Context, n oit.Notification) error
}

// Store writes notifications to the notifications table.
type Store struct {
	db     Inserter
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a store-backed sink.
func NewStore(db Inserter, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

func (s *Store) Notify(ctx context.Context, n oit.Notification) {
	if n.UserID == "" {
		s.logger.Debug("notification without recipient dropped", zap.String("title", n.Title), zap.String("order_id", n.OrderID))
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Severity == "" {
		n.Severity = oit.SeverityInfo
	}
	// Outlive a cancelled request; the stage already finished its work.
	ctx = context.WithoutCancel(ctx)
	if err := s.db.InsertNotification(ctx, n); err != nil {
		s.logger.Warn("notification insert failed",
			zap.String("user_id", n.UserID),
			zap.String("order_id", n.OrderID),
			zap.Error(err))
	}
}

// Many sends the same notification to each user.
func Many(ctx context.Context, s Sink, userIDs []string, n oit.Notification) {
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		c := n
		c.UserID = id
		s.Notify(ctx, c)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(context.Context, oit.Notification) {}

// Recorder keeps notifications in memory for tests.
type Recorder struct {
	Sent []oit.Notification
}

func (r *Recorder) Notify(_ context.Context, n oit.Notification) {
	r.Sent = append(r.Sent, n)
}

// Titles returns the titles sent so far.
func (r *Recorder) Titles() []string {
	out := make([]string, len(r.Sent))
	for i, n := range r.Sent {
		out[i] = n.Title
	}
	return out
}
