// Package entity provides the shared data structures synchronized between
// family devices: care-recipient profiles, scheduled care tasks, inbound
// text responses, accounts, and timeline events.
//
// Each entity is a flat, JSON-serializable struct with last-write-wins
// friendly fields: an immutable ID, an owning-account reference, and an
// UpdatedAt timestamp used for conflict resolution.
package entity

import "time"

// Kind identifies one of the synchronized entity types.
type Kind int

const (
	// KindAccount is the family account entity.
	KindAccount Kind = iota
	// KindProfile is a care-recipient profile.
	KindProfile
	// KindTask is a scheduled care task.
	KindTask
	// KindMessage is an inbound text response.
	KindMessage
	// KindTimelineEvent is a derived timeline entry for a profile.
	KindTimelineEvent
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindProfile:
		return "profile"
	case KindTask:
		return "task"
	case KindMessage:
		return "message"
	case KindTimelineEvent:
		return "timeline_event"
	default:
		return "unknown"
	}
}

// KindFromString parses a kind name as produced by String.
// Returns false if the name is not a known kind.
func KindFromString(s string) (Kind, bool) {
	switch s {
	case "account":
		return KindAccount, true
	case "profile":
		return KindProfile, true
	case "task":
		return KindTask, true
	case "message":
		return KindMessage, true
	case "timeline_event":
		return KindTimelineEvent, true
	default:
		return 0, false
	}
}

// Lifecycle status values shared by all entities.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// Entity is implemented by every synchronized type.
//
// EntityID is immutable after creation. ModifiedAt drives last-write-wins
// conflict resolution for profiles and tasks.
type Entity interface {
	// EntityID returns the immutable identity of the entity.
	EntityID() string

	// EntityKind returns the entity type.
	EntityKind() Kind

	// OwnerID returns the owning account ID.
	OwnerID() string

	// ModifiedAt returns the last-modified timestamp.
	ModifiedAt() time.Time
}
