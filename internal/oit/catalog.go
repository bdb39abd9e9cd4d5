package oit

import "time"

// ResourceStatus is the inventory state of a resource.
type ResourceStatus string

const (
	ResourceAvailable ResourceStatus = "AVAILABLE"
	ResourceInUse     ResourceStatus = "IN_USE"
)

// Resource is an inventory item (equipment, vehicle, kit).
type Resource struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Status ResourceStatus `json:"status"`
}

// Ref returns the plan/assignment reference for r.
func (r Resource) Ref() ResourceRef {
	return ResourceRef{ID: FlexString(r.ID), Name: r.Name, Type: r.Type}
}

// SamplingTemplate is a named ordered checklist for a field campaign.
type SamplingTemplate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OrderType   string    `json:"orderType"`
	Description string    `json:"description"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Standard is a normative document fragment.
type Standard struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is one entry of a user's feed.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	OrderID   string    `json:"orderId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
