package entity

import (
	"fmt"
	"time"
)

// Account represents the family account shared by all devices.
//
// Accounts merge field-by-field on conflict rather than whole-record
// last-write-wins: user-editable fields keep the local edit, while
// server-computed subscription and consent-authority fields always take
// the remote value.
type Account struct {
	ID string `json:"id"`

	// ===== User-editable fields (local wins on conflict) =====
	FamilyName string `json:"family_name"`
	OwnerEmail string `json:"owner_email"`
	Timezone   string `json:"timezone,omitempty"`

	// ===== Server-computed fields (remote wins on conflict) =====
	SubscriptionTier      string     `json:"subscription_tier"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	ConsentAuthority      bool       `json:"consent_authority"`
	ProfileLimit          int        `json:"profile_limit"`

	Status string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID implements Entity.
func (a *Account) EntityID() string { return a.ID }

// EntityKind implements Entity.
func (a *Account) EntityKind() Kind { return KindAccount }

// OwnerID implements Entity. An account owns itself.
func (a *Account) OwnerID() string { return a.ID }

// ModifiedAt implements Entity.
func (a *Account) ModifiedAt() time.Time { return a.UpdatedAt }

// Validate checks if the Account has valid field values.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.FamilyName == "" {
		return fmt.Errorf("family_name is required")
	}
	if a.OwnerEmail == "" {
		return fmt.Errorf("owner_email is required")
	}
	if a.ProfileLimit < 0 {
		return fmt.Errorf("profile_limit must not be negative (got %d)", a.ProfileLimit)
	}
	if a.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (a *Account) SetDefaults() {
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.SubscriptionTier == "" {
		a.SubscriptionTier = "free"
	}
	if a.ProfileLimit == 0 {
		a.ProfileLimit = 5
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
}

// Touch sets UpdatedAt to the given time.
func (a *Account) Touch(now time.Time) {
	a.UpdatedAt = now
}
