package engine

import (
	"github.com/kindred-care/kindred/internal/entity"
)

// Resolve picks the winner between a locally staged copy and the stored
// copy of the same entity. Pure and deterministic; no I/O.
//
// Policy by type:
//   - Profile, Task, TimelineEvent: greater last-modified wins; ties
//     prefer the local copy.
//   - InboundMessage: earlier received-at wins, so the first true record
//     is kept and later duplicate deliveries are discarded.
//   - Account: field-level merge - local wins on user-editable fields,
//     the stored copy is authoritative for server-computed subscription
//     and consent-authority fields.
func Resolve(local, stored entity.Entity) entity.Entity {
	if stored == nil {
		return local
	}
	if local == nil {
		return stored
	}

	switch l := local.(type) {
	case *entity.InboundMessage:
		s, ok := stored.(*entity.InboundMessage)
		if !ok {
			return local
		}
		return resolveMessage(l, s)
	case *entity.Account:
		s, ok := stored.(*entity.Account)
		if !ok {
			return local
		}
		return MergeAccounts(l, s)
	default:
		return resolveLastWriter(local, stored)
	}
}

// resolveLastWriter applies last-writer-wins with local preference on ties.
func resolveLastWriter(local, stored entity.Entity) entity.Entity {
	if stored.ModifiedAt().After(local.ModifiedAt()) {
		return stored
	}
	return local
}

// resolveMessage keeps the copy with the earlier ReceivedAt. Equal
// timestamps keep the stored copy: it was recorded first.
func resolveMessage(local, stored *entity.InboundMessage) entity.Entity {
	if local.ReceivedAt.Before(stored.ReceivedAt) {
		return local
	}
	return stored
}

// MergeAccounts merges two copies of an account field by field.
//
// User-editable fields (family name, owner email, timezone, status) come
// from the local copy. Server-computed fields (subscription tier and
// expiry, consent authority, profile limit) come from the stored copy,
// which reflects the server's latest push. The merged UpdatedAt is the
// later of the two so the merge itself never regresses the clock.
func MergeAccounts(local, stored *entity.Account) *entity.Account {
	merged := *local

	merged.SubscriptionTier = stored.SubscriptionTier
	merged.SubscriptionExpiresAt = stored.SubscriptionExpiresAt
	merged.ConsentAuthority = stored.ConsentAuthority
	merged.ProfileLimit = stored.ProfileLimit

	if stored.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = stored.UpdatedAt
	}

	return &merged
}
