package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/dylan-vpa/serambienteai-sub000/internal/oit"
)

// ResourceChange records one SetResourceStatus call on a MemStore.
type ResourceChange struct {
	ID     string
	Status oit.ResourceStatus
}

// MemStore is an in-memory Store used by tests and local runs.
type MemStore struct {
	mu sync.Mutex

	orders        map[string]*oit.Order
	resources     map[string]oit.Resource
	templates     []oit.SamplingTemplate
	standards     []oit.Standard
	assignments   map[string][]string
	notifications []oit.Notification

	// ResourceLog lists every resource status change in call order.
	ResourceLog []ResourceChange

	// BeforeWrite, when set, runs inside the conditional write before the
	// version check. Tests use it to simulate a concurrent writer.
	BeforeWrite func(id string)

	now func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		orders:      make(map[string]*oit.Order),
		resources:   make(map[string]oit.Resource),
		assignments: make(map[string][]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// AddResources seeds inventory.
func (m *MemStore) AddResources(rs ...oit.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rs {
		if r.Status == "" {
			r.Status = oit.ResourceAvailable
		}
		m.resources[r.ID] = r
	}
}

// AddTemplates seeds the sampling template catalog, in catalog order.
func (m *MemStore) AddTemplates(ts ...oit.SamplingTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates = append(m.templates, ts...)
}

// AddStandards seeds the standards library.
func (m *MemStore) AddStandards(ss ...oit.Standard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.standards = append(m.standards, ss...)
}

// Resource returns the current state of a seeded resource.
func (m *MemStore) Resource(id string) (oit.Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	return r, ok
}

func (m *MemStore) CreateOrder(_ context.Context, o *oit.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if _, exists := m.orders[o.ID]; exists {
		return eris.Errorf("order %s already exists", o.ID)
	}
	now := m.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 0
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id string) (*oit.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "order %s", id)
	}
	return o.Clone(), nil
}

func (m *MemStore) ListOrders(_ context.Context, f ListFilter) ([]*oit.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*oit.Order
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 25
	}
	start := min(f.Offset, total)
	end := min(start+limit, total)
	out := make([]*oit.Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, o.Clone())
	}
	return out, total, nil
}

func (m *MemStore) UpdateOrder(ctx context.Context, id string, fn UpdateFunc) (*oit.Order, error) {
	return updateWithRetry(ctx, m, id, fn)
}

func (m *MemStore) writeIfVersion(_ context.Context, o *oit.Order, expected int) (bool, error) {
	if m.BeforeWrite != nil {
		m.BeforeWrite(o.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.orders[o.ID]
	if !ok {
		return false, eris.Wrapf(ErrNotFound, "order %s", o.ID)
	}
	if current.Version != expected {
		return false, nil
	}
	stored := o.Clone()
	stored.Version = expected + 1
	stored.CreatedAt = current.CreatedAt
	stored.UpdatedAt = m.now()
	m.orders[o.ID] = stored
	return true, nil
}

// Touch rewinds an order's updated_at; tests use it to age orders for the
// reconcile sweep.
func (m *MemStore) Touch(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.UpdatedAt = at
	}
}

func (m *MemStore) StuckOrders(_ context.Context, statuses []oit.Status, updatedBefore time.Time) ([]*oit.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[oit.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []*oit.Order
	for _, o := range m.orders {
		if want[o.Status] && o.UpdatedAt.Before(updatedBefore) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemStore) AvailableResources(_ context.Context, limit int) ([]oit.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []oit.Resource
	for _, r := range m.resources {
		if r.Status == oit.ResourceAvailable {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) SetResourceStatus(_ context.Context, id string, status oit.ResourceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "resource %s", id)
	}
	r.Status = status
	m.resources[id] = r
	m.ResourceLog = append(m.ResourceLog, ResourceChange{ID: id, Status: status})
	return nil
}

func (m *MemStore) SamplingTemplates(_ context.Context) ([]oit.SamplingTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]oit.SamplingTemplate(nil), m.templates...), nil
}

// StandardsByCategories ignores the embedding; ranking is a Postgres concern.
func (m *MemStore) StandardsByCategories(_ context.Context, categories []string, _ []float32) ([]oit.Standard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[strings.ToLower(c)] = true
	}
	var out []oit.Standard
	for _, s := range m.standards {
		if want[strings.ToLower(s.Category)] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemStore) AssignEngineers(_ context.Context, orderID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.assignments[orderID]
	for _, u := range userIDs {
		dup := false
		for _, e := range existing {
			if e == u {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, u)
		}
	}
	sort.Strings(existing)
	m.assignments[orderID] = existing
	return nil
}

func (m *MemStore) AssignedEngineers(_ context.Context, orderID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.assignments[orderID]...), nil
}

func (m *MemStore) InsertNotification(_ context.Context, n oit.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MemStore) Notifications(_ context.Context, userID string, limit int) ([]oit.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []oit.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if userID != "" && n.UserID != userID {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AllNotifications returns every stored notification in insertion order.
func (m *MemStore) AllNotifications() []oit.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]oit.Notification(nil), m.notifications...)
}
