package entity

import (
	"fmt"
	"time"
)

// InboundMessage represents a text reply received from a care recipient.
//
// Messages are immutable records: conflict resolution keeps the copy with
// the earliest ReceivedAt so that duplicate deliveries of the same message
// never overwrite the first true record.
type InboundMessage struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	// ProfileID is the matched care-recipient profile, if any.
	ProfileID string `json:"profile_id,omitempty"`

	// TaskID is the task this reply responds to, if any.
	TaskID string `json:"task_id,omitempty"`

	FromNumber string    `json:"from_number"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`

	Status string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (m *InboundMessage) EntityID() string { return m.ID }

// EntityKind implements Entity.
func (m *InboundMessage) EntityKind() Kind { return KindMessage }

// OwnerID implements Entity.
func (m *InboundMessage) OwnerID() string { return m.AccountID }

// ModifiedAt implements Entity.
func (m *InboundMessage) ModifiedAt() time.Time { return m.UpdatedAt }

// Validate checks if the InboundMessage has valid field values.
func (m *InboundMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if m.FromNumber == "" {
		return fmt.Errorf("from_number is required")
	}
	if m.ReceivedAt.IsZero() {
		return fmt.Errorf("received_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (m *InboundMessage) SetDefaults() {
	if m.Status == "" {
		m.Status = StatusActive
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.ReceivedAt
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
}
