package entity

// ConsentState tracks where a profile is in the SMS opt-in lifecycle.
//
// The state only moves through the transitions enforced by the consent
// package. ConsentOptedOut is terminal: it is never reversed automatically,
// only by an explicit resubscription request from a human.
type ConsentState string

const (
	// ConsentPending means no consent request has been dispatched yet.
	// This is the initial state, set at profile creation.
	ConsentPending ConsentState = "pending"

	// ConsentSent means a consent request was dispatched and we are
	// waiting for an inbound reply.
	ConsentSent ConsentState = "sent"

	// ConsentConfirmed means the recipient replied with an affirmative
	// keyword. Outbound messaging is allowed.
	ConsentConfirmed ConsentState = "confirmed"

	// ConsentDeclined means the recipient replied with a negative keyword.
	// Outbound messaging stays off; no automatic re-prompt.
	ConsentDeclined ConsentState = "declined"

	// ConsentOptedOut means the recipient sent an opt-out keyword.
	// Terminal: all automatic outbound messaging stops permanently.
	ConsentOptedOut ConsentState = "opted_out"

	// ConsentFailed means the outbound consent request could not be
	// dispatched. A manual resend moves the profile back to pending.
	ConsentFailed ConsentState = "failed"
)

// Valid reports whether s is one of the defined consent states.
func (s ConsentState) Valid() bool {
	switch s {
	case ConsentPending, ConsentSent, ConsentConfirmed,
		ConsentDeclined, ConsentOptedOut, ConsentFailed:
		return true
	}
	return false
}

// Terminal reports whether the state permanently blocks automatic
// outbound messaging.
func (s ConsentState) Terminal() bool {
	return s == ConsentOptedOut
}
