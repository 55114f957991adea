package entity

import (
	"fmt"
	"time"
)

// TimelineEventKind tags the payload carried by a TimelineEvent.
type TimelineEventKind string

const (
	// TimelineTaskCompleted records a task-completion snapshot.
	TimelineTaskCompleted TimelineEventKind = "task_completed"

	// TimelineProfileCreated records a profile-creation snapshot.
	// Exactly one is created per profile, when consent is confirmed.
	TimelineProfileCreated TimelineEventKind = "profile_created"
)

// TaskSnapshot is the payload for a task-completion timeline event.
type TaskSnapshot struct {
	TaskID      string    `json:"task_id"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
	CompletedBy string    `json:"completed_by,omitempty"`
}

// ProfileSnapshot is the payload for a profile-creation timeline event.
type ProfileSnapshot struct {
	ProfileID   string `json:"profile_id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
}

// TimelineEvent is a derived, append-only entry in a profile's timeline.
//
// The payload is a tagged union: exactly one of Task or Profile is set,
// according to EventKind.
type TimelineEvent struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	ProfileID string `json:"profile_id"`

	EventKind  TimelineEventKind `json:"event_kind"`
	OccurredAt time.Time         `json:"occurred_at"`

	Task    *TaskSnapshot    `json:"task,omitempty"`
	Profile *ProfileSnapshot `json:"profile,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (e *TimelineEvent) EntityID() string { return e.ID }

// EntityKind implements Entity.
func (e *TimelineEvent) EntityKind() Kind { return KindTimelineEvent }

// OwnerID implements Entity.
func (e *TimelineEvent) OwnerID() string { return e.AccountID }

// ModifiedAt implements Entity.
func (e *TimelineEvent) ModifiedAt() time.Time { return e.UpdatedAt }

// Validate checks if the TimelineEvent has valid field values.
func (e *TimelineEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if e.ProfileID == "" {
		return fmt.Errorf("profile_id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	switch e.EventKind {
	case TimelineTaskCompleted:
		if e.Task == nil {
			return fmt.Errorf("task snapshot is required for %s events", e.EventKind)
		}
		if e.Profile != nil {
			return fmt.Errorf("profile snapshot must not be set for %s events", e.EventKind)
		}
	case TimelineProfileCreated:
		if e.Profile == nil {
			return fmt.Errorf("profile snapshot is required for %s events", e.EventKind)
		}
		if e.Task != nil {
			return fmt.Errorf("task snapshot must not be set for %s events", e.EventKind)
		}
	default:
		return fmt.Errorf("invalid event_kind %q", e.EventKind)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (e *TimelineEvent) SetDefaults() {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}
