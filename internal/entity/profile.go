package entity

import (
	"fmt"
	"time"
)

// Profile represents a care recipient reachable at a phone number.
//
// The consent fields gate outbound messaging: CanReceiveMessages only
// becomes true after the recipient confirms consent, and flips back to
// false on decline or opt-out.
type Profile struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Relation    string `json:"relation,omitempty"` // parent, grandparent, etc.

	Status string `json:"status"`

	// ===== Consent lifecycle =====
	ConsentState       ConsentState `json:"consent_state"`
	ConsentChangedAt   time.Time    `json:"consent_changed_at"`
	CanReceiveMessages bool         `json:"can_receive_messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (p *Profile) EntityID() string { return p.ID }

// EntityKind implements Entity.
func (p *Profile) EntityKind() Kind { return KindProfile }

// OwnerID implements Entity.
func (p *Profile) OwnerID() string { return p.AccountID }

// ModifiedAt implements Entity.
func (p *Profile) ModifiedAt() time.Time { return p.UpdatedAt }

// Validate checks if the Profile has valid field values.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.AccountID == "" {
		return fmt.Errorf("account_id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(p.Name))
	}
	if p.PhoneNumber == "" {
		return fmt.Errorf("phone_number is required")
	}
	if !p.ConsentState.Valid() {
		return fmt.Errorf("invalid consent_state %q", p.ConsentState)
	}
	if p.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (p *Profile) SetDefaults() {
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.ConsentState == "" {
		p.ConsentState = ConsentPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	if p.ConsentChangedAt.IsZero() {
		p.ConsentChangedAt = p.CreatedAt
	}
}

// Touch sets UpdatedAt to the given time.
// This should be called whenever any field is modified.
func (p *Profile) Touch(now time.Time) {
	p.UpdatedAt = now
}
