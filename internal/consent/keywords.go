package consent

import "strings"

// Reply classifies an inbound message body against the consent keyword
// allow-lists.
type Reply int

const (
	// ReplyNone means the body matched no keyword; the message is an
	// ordinary response and does not affect consent.
	ReplyNone Reply = iota
	// ReplyAffirmative confirms consent.
	ReplyAffirmative
	// ReplyNegative declines consent.
	ReplyNegative
	// ReplyOptOut revokes consent permanently.
	ReplyOptOut
)

// String returns a human-readable representation of the reply class.
func (r Reply) String() string {
	switch r {
	case ReplyAffirmative:
		return "affirmative"
	case ReplyNegative:
		return "negative"
	case ReplyOptOut:
		return "opt_out"
	default:
		return "none"
	}
}

// Keyword lists are matched exactly (not as substrings) after lowering
// and trimming, so a reply like "yes please stop by" never triggers a
// transition. The opt-out set mirrors the carrier-mandated keywords.
var (
	affirmativeKeywords = []string{"yes", "y", "yeah", "yep", "confirm", "ok", "okay"}
	negativeKeywords    = []string{"no", "n", "nope", "decline"}
	optOutKeywords      = []string{"stop", "stopall", "unsubscribe", "cancel", "end", "quit"}
)

// Classify normalizes an inbound body and returns its reply class along
// with the normalized keyword that matched. Opt-out keywords take
// precedence over everything else.
func Classify(body string) (Reply, string) {
	normalized := strings.ToLower(strings.TrimSpace(body))
	if normalized == "" {
		return ReplyNone, ""
	}

	for _, kw := range optOutKeywords {
		if normalized == kw {
			return ReplyOptOut, kw
		}
	}
	for _, kw := range affirmativeKeywords {
		if normalized == kw {
			return ReplyAffirmative, kw
		}
	}
	for _, kw := range negativeKeywords {
		if normalized == kw {
			return ReplyNegative, kw
		}
	}

	return ReplyNone, ""
}
