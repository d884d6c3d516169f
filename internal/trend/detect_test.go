package trend

import "testing"

func TestIsEmojiOnly(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{"😄", true},
		{"😄👍🔥", true},
		{"<:custom:123456789012345678>", true},
		{"<a:party:123456789012345678>", true},
		{"😄 <:custom:123456789012345678>", true},
		{"hello", false},
		{"😄 hello", false},
		{"", false},
		{"<:broken:>", false},
		{"123", false},
	}
	for _, tc := range cases {
		if got := IsEmojiOnly(tc.content); got != tc.want {
			t.Errorf("IsEmojiOnly(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestFirstEmoji(t *testing.T) {
	if got := FirstEmoji("pick <:one:111111111111111111> or 😄"); got != "<:one:111111111111111111>" {
		t.Errorf("custom emoji should win: %q", got)
	}
	if got := FirstEmoji("just 😄 here"); got != "😄" {
		t.Errorf("unicode emoji: %q", got)
	}
	if got := FirstEmoji("no emoji"); got != "" {
		t.Errorf("expected empty: %q", got)
	}
}

func TestStreakStopsAtMismatch(t *testing.T) {
	history := []CachedMessage{
		{Kind: KindText, Value: "different"},
		{Kind: KindText, Value: "same"},
		{Kind: KindText, Value: "same"},
	}
	run, botIn := streak(history, func(m CachedMessage) bool { return m.Value == "same" })
	if run != 2 || botIn {
		t.Errorf("run = %d botIn = %v, want 2 false", run, botIn)
	}
}

func TestStreakDetectsBot(t *testing.T) {
	history := []CachedMessage{
		{Kind: KindText, Value: "same"},
		{Kind: KindText, Value: "same", IsBot: true},
	}
	_, botIn := streak(history, func(m CachedMessage) bool { return m.Value == "same" })
	if !botIn {
		t.Error("bot participation not detected")
	}
}
