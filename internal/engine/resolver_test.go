package engine

import (
	"testing"
	"time"

	"github.com/kindred-care/kindred/internal/entity"
)

var resolverBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func resolverProfile(name string, updated time.Time) *entity.Profile {
	return &entity.Profile{
		ID:           "prof-1",
		AccountID:    "acct-1",
		Name:         name,
		PhoneNumber:  "+15551230001",
		Status:       entity.StatusActive,
		ConsentState: entity.ConsentPending,
		UpdatedAt:    updated,
	}
}

// TestResolveLastWriterWins verifies the timestamp comparison for
// profiles and tasks.
func TestResolveLastWriterWins(t *testing.T) {
	tests := []struct {
		name      string
		local     time.Time
		stored    time.Time
		wantLocal bool
	}{
		{"local newer", resolverBase.Add(time.Minute), resolverBase, true},
		{"stored newer", resolverBase, resolverBase.Add(time.Minute), false},
		{"equal prefers local", resolverBase, resolverBase, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := resolverProfile("local edit", tt.local)
			stored := resolverProfile("stored edit", tt.stored)

			got := Resolve(local, stored)
			isLocal := got == entity.Entity(local)
			if isLocal != tt.wantLocal {
				t.Errorf("Resolve() kept %s copy, wantLocal=%v", got.(*entity.Profile).Name, tt.wantLocal)
			}
		})
	}
}

// TestResolveNilSides verifies missing-side handling.
func TestResolveNilSides(t *testing.T) {
	p := resolverProfile("only", resolverBase)

	if got := Resolve(p, nil); got != entity.Entity(p) {
		t.Error("Resolve(local, nil) should keep local")
	}
	if got := Resolve(nil, p); got != entity.Entity(p) {
		t.Error("Resolve(nil, stored) should keep stored")
	}
}

// TestResolveMessageEarliestWins verifies that duplicate deliveries of an
// inbound message never overwrite the first record.
func TestResolveMessageEarliestWins(t *testing.T) {
	first := &entity.InboundMessage{
		ID: "msg-1", AccountID: "acct-1", FromNumber: "+15551230001",
		Body: "yes", ReceivedAt: resolverBase, UpdatedAt: resolverBase,
	}
	dup := &entity.InboundMessage{
		ID: "msg-1", AccountID: "acct-1", FromNumber: "+15551230001",
		Body: "yes", ReceivedAt: resolverBase.Add(10 * time.Second), UpdatedAt: resolverBase.Add(10 * time.Second),
	}

	if got := Resolve(dup, first); got != entity.Entity(first) {
		t.Error("Resolve() should keep the earlier-received stored copy")
	}
	if got := Resolve(first, dup); got != entity.Entity(first) {
		t.Error("Resolve() should keep the earlier-received local copy")
	}

	// Equal timestamps keep the stored record
	same := *first
	if got := Resolve(&same, first); got != entity.Entity(first) {
		t.Error("Resolve() should keep the stored copy on a timestamp tie")
	}
}

// TestMergeAccounts verifies the field-level account merge: local wins on
// user-editable fields, stored wins on server-computed ones.
func TestMergeAccounts(t *testing.T) {
	expires := resolverBase.Add(30 * 24 * time.Hour)
	local := &entity.Account{
		ID:         "acct-1",
		FamilyName: "The Riveras",
		OwnerEmail: "ana@example.com",
		Timezone:   "America/Chicago",

		SubscriptionTier: "free",
		ProfileLimit:     5,

		Status:    entity.StatusActive,
		UpdatedAt: resolverBase.Add(time.Minute),
	}
	stored := &entity.Account{
		ID:         "acct-1",
		FamilyName: "Rivera Family",
		OwnerEmail: "ana@example.com",
		Timezone:   "America/New_York",

		SubscriptionTier:      "premium",
		SubscriptionExpiresAt: &expires,
		ConsentAuthority:      true,
		ProfileLimit:          20,

		Status:    entity.StatusActive,
		UpdatedAt: resolverBase.Add(2 * time.Minute),
	}

	merged := MergeAccounts(local, stored)

	if merged.FamilyName != "The Riveras" {
		t.Errorf("FamilyName = %q, want local edit", merged.FamilyName)
	}
	if merged.Timezone != "America/Chicago" {
		t.Errorf("Timezone = %q, want local edit", merged.Timezone)
	}
	if merged.SubscriptionTier != "premium" {
		t.Errorf("SubscriptionTier = %q, want server value", merged.SubscriptionTier)
	}
	if merged.SubscriptionExpiresAt == nil || !merged.SubscriptionExpiresAt.Equal(expires) {
		t.Errorf("SubscriptionExpiresAt = %v, want server value", merged.SubscriptionExpiresAt)
	}
	if !merged.ConsentAuthority {
		t.Error("ConsentAuthority should take the server value")
	}
	if merged.ProfileLimit != 20 {
		t.Errorf("ProfileLimit = %d, want 20", merged.ProfileLimit)
	}
	if !merged.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want the later %v", merged.UpdatedAt, stored.UpdatedAt)
	}

	// Merge must not mutate its inputs
	if local.SubscriptionTier != "free" {
		t.Error("MergeAccounts mutated the local copy")
	}
}

// TestResolveAccountDispatch verifies Resolve routes accounts through the
// field merge.
func TestResolveAccountDispatch(t *testing.T) {
	local := &entity.Account{ID: "acct-1", FamilyName: "Local", OwnerEmail: "a@example.com",
		SubscriptionTier: "free", UpdatedAt: resolverBase}
	stored := &entity.Account{ID: "acct-1", FamilyName: "Stored", OwnerEmail: "a@example.com",
		SubscriptionTier: "premium", UpdatedAt: resolverBase}

	got, ok := Resolve(local, stored).(*entity.Account)
	if !ok {
		t.Fatalf("Resolve() returned %T, want *entity.Account", got)
	}
	if got.FamilyName != "Local" || got.SubscriptionTier != "premium" {
		t.Errorf("Resolve() = %+v, want merged account", got)
	}
}
