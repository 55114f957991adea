package consent

import "testing"

// TestClassify verifies exact-match keyword classification with
// normalization.
func TestClassify(t *testing.T) {
	tests := []struct {
		body        string
		wantReply   Reply
		wantKeyword string
	}{
		{"yes", ReplyAffirmative, "yes"},
		{"YES", ReplyAffirmative, "yes"},
		{"  Yes  ", ReplyAffirmative, "yes"},
		{"y", ReplyAffirmative, "y"},
		{"okay", ReplyAffirmative, "okay"},

		{"no", ReplyNegative, "no"},
		{"Nope", ReplyNegative, "nope"},
		{"DECLINE", ReplyNegative, "decline"},

		{"stop", ReplyOptOut, "stop"},
		{"STOP", ReplyOptOut, "stop"},
		{"Stop ", ReplyOptOut, "stop"},
		{"unsubscribe", ReplyOptOut, "unsubscribe"},
		{"STOPALL", ReplyOptOut, "stopall"},
		{"quit", ReplyOptOut, "quit"},

		// Exact match only: keywords inside longer replies do not count
		{"yes please stop by", ReplyNone, ""},
		{"I want to stop", ReplyNone, ""},
		{"ok thanks", ReplyNone, ""},
		{"", ReplyNone, ""},
		{"   ", ReplyNone, ""},
		{"took my pills", ReplyNone, ""},
	}

	for _, tt := range tests {
		reply, keyword := Classify(tt.body)
		if reply != tt.wantReply || keyword != tt.wantKeyword {
			t.Errorf("Classify(%q) = (%s, %q), want (%s, %q)",
				tt.body, reply, keyword, tt.wantReply, tt.wantKeyword)
		}
	}
}

// TestClassifyOptOutPrecedence verifies "cancel" resolves as opt-out even
// though it could read as a negative reply.
func TestClassifyOptOutPrecedence(t *testing.T) {
	reply, _ := Classify("cancel")
	if reply != ReplyOptOut {
		t.Errorf("Classify(\"cancel\") = %s, want opt_out", reply)
	}
}
