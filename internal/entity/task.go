package entity

import (
	"fmt"
	"time"
)

// Task represents a scheduled care task for a profile, such as a
// medication reminder or an appointment check-in.
type Task struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	ProfileID string `json:"profile_id"`

	Title string `json:"title"`
	Notes string `json:"notes,omitempty"`

	Status string `json:"status"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (t *Task) EntityID() string { return t.ID }

// EntityKind implements Entity.
func (t *Task) EntityKind() Kind { return KindTask }

// OwnerID implements Entity.
func (t *Task) OwnerID() string { return t.AccountID }

// ModifiedAt implements Entity.
func (t *Task) ModifiedAt() time.Time { return t.UpdatedAt }

// Completed reports whether the task has been marked done.
func (t *Task) Completed() bool { return t.CompletedAt != nil }

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if t.ProfileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
}

// Touch sets UpdatedAt to the given time.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = now
}
