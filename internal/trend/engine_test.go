package trend

import (
	"context"
	"testing"
	"time"

	"github.com/user/hatsuka/internal/config"
)

func testConfig() config.TrendConfig {
	return config.TrendConfig{
		Enabled:             true,
		CooldownSeconds:     60,
		ReactionThreshold:   3,
		ContentThreshold:    2,
		EmojiThreshold:      3,
		MessageHistoryLimit: 10,
		EnableProbabilistic: true,
		BaseProbability:     0.5,
		BoostFactor:         0.15,
		MaxProbability:      0.95,
	}
}

func newTestEngine(cfg config.TrendConfig) *Engine {
	e := NewEngine(cfg, nil, nil, nil)
	e.sleep = func(context.Context, time.Duration) bool { return true }
	return e
}

func TestProbabilityFormula(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(cfg)

	cases := []struct {
		count int
		want  float64
	}{
		{2, 0.50}, // at threshold, excess 0
		{4, 0.80}, // excess 2
		{9, 0.95}, // excess 7 capped at max
	}
	for _, tc := range cases {
		var rolled float64
		e.randFn = func() float64 { rolled = -1; return tc.want - 0.01 }
		if !e.ShouldFollow(tc.count, cfg.ContentThreshold) {
			t.Errorf("count %d: expected follow at p=%.2f", tc.count, tc.want)
		}
		e.randFn = func() float64 { return tc.want + 0.01 }
		if e.ShouldFollow(tc.count, cfg.ContentThreshold) {
			t.Errorf("count %d: expected suppression above p=%.2f", tc.count, tc.want)
		}
		_ = rolled
	}
}

func TestBelowThresholdNeverFollows(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 }
	if e.ShouldFollow(1, 2) {
		t.Error("below threshold must never follow")
	}
}

func TestHardThresholdWithoutProbabilistic(t *testing.T) {
	cfg := testConfig()
	cfg.EnableProbabilistic = false
	e := newTestEngine(cfg)
	e.randFn = func() float64 { return 0.999 }
	if !e.ShouldFollow(2, 2) {
		t.Error("hard threshold must follow at threshold")
	}
}

func TestChannelAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedChannels = []string{"allowed"}
	e := newTestEngine(cfg)
	if !e.EnabledInChannel("allowed") || e.EnabledInChannel("other") {
		t.Error("allow list not respected")
	}

	cfg.AllowedChannels = nil
	e = newTestEngine(cfg)
	if !e.EnabledInChannel("anything") {
		t.Error("empty allow list must permit all channels")
	}
}

func TestContentFollowEmits(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 } // always pass the gate

	history := []CachedMessage{
		{Kind: KindText, Value: "lol", AuthorID: "u1"},
	}
	msg := CachedMessage{Kind: KindText, Value: "lol", AuthorID: "u2"}

	var sent *Emission
	ok, err := e.HandleMessage(context.Background(), "chan", "", msg, history, func(em Emission) error {
		sent = &em
		return nil
	})
	if err != nil || !ok {
		t.Fatalf("expected emission, ok=%v err=%v", ok, err)
	}
	if sent == nil || sent.Value != "lol" || sent.Kind != KindText {
		t.Errorf("wrong emission: %+v", sent)
	}
}

func TestCooldownBlocksSecondEmission(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 }

	history := []CachedMessage{{Kind: KindText, Value: "lol"}}
	msg := CachedMessage{Kind: KindText, Value: "lol"}
	send := func(Emission) error { return nil }

	ok, _ := e.HandleMessage(context.Background(), "chan", "", msg, history, send)
	if !ok {
		t.Fatal("first emission expected")
	}
	ok, _ = e.HandleMessage(context.Background(), "chan", "", msg, history, send)
	if ok {
		t.Error("second emission within cooldown must be suppressed")
	}
}

func TestBotStreakSuppresses(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 }

	history := []CachedMessage{
		{Kind: KindText, Value: "lol", IsBot: true},
		{Kind: KindText, Value: "lol"},
	}
	msg := CachedMessage{Kind: KindText, Value: "lol"}
	ok, _ := e.HandleMessage(context.Background(), "chan", "", msg, history, func(Emission) error { return nil })
	if ok {
		t.Error("bot already in streak: must not follow")
	}
}

func TestBotMessageIgnored(t *testing.T) {
	e := newTestEngine(testConfig())
	msg := CachedMessage{Kind: KindText, Value: "lol", IsBot: true}
	ok, _ := e.HandleMessage(context.Background(), "chan", "", msg, nil, func(Emission) error { return nil })
	if ok {
		t.Error("bot messages must not trigger trends")
	}
}

func TestContentBeatsEmoji(t *testing.T) {
	cfg := testConfig()
	cfg.ContentThreshold = 2
	cfg.EmojiThreshold = 2
	e := newTestEngine(cfg)
	e.randFn = func() float64 { return 0.0 }

	// An emoji-only message repeated: both content and emoji trend would
	// fire; content must win and echo verbatim.
	history := []CachedMessage{{Kind: KindText, Value: "😄"}}
	msg := CachedMessage{Kind: KindText, Value: "😄"}

	var sent Emission
	ok, _ := e.HandleMessage(context.Background(), "chan", "", msg, history, func(em Emission) error {
		sent = em
		return nil
	})
	if !ok {
		t.Fatal("expected emission")
	}
	if sent.Value != "😄" {
		t.Errorf("content trend must repeat verbatim, got %q", sent.Value)
	}
}

func TestEmojiTrendFallback(t *testing.T) {
	cfg := testConfig()
	cfg.ContentThreshold = 99 // keep content trend out of the way
	cfg.EmojiThreshold = 2
	e := newTestEngine(cfg)
	e.randFn = func() float64 { return 0.0 }

	history := []CachedMessage{{Kind: KindText, Value: "🔥🔥"}}
	msg := CachedMessage{Kind: KindText, Value: "😄"}

	var sent Emission
	ok, _ := e.HandleMessage(context.Background(), "chan", "", msg, history, func(em Emission) error {
		sent = em
		return nil
	})
	if !ok {
		t.Fatal("expected emoji emission")
	}
	if !IsEmojiOnly(sent.Value) {
		t.Errorf("fallback emission must be emoji-only, got %q", sent.Value)
	}
}

func TestReactionFollow(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 }

	added := false
	ok, err := e.HandleReaction(context.Background(), "chan", 3, false, func() error {
		added = true
		return nil
	})
	if err != nil || !ok || !added {
		t.Fatalf("expected reaction follow, ok=%v err=%v", ok, err)
	}
}

func TestReactionBotAlreadyReacted(t *testing.T) {
	e := newTestEngine(testConfig())
	e.randFn = func() float64 { return 0.0 }
	ok, _ := e.HandleReaction(context.Background(), "chan", 5, true, func() error { return nil })
	if ok {
		t.Error("must not re-add own reaction")
	}
}

func TestDisabledEngine(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	e := newTestEngine(cfg)
	ok, _ := e.HandleMessage(context.Background(), "chan", "", CachedMessage{Kind: KindText, Value: "x"}, nil, func(Emission) error { return nil })
	if ok {
		t.Error("disabled engine must never emit")
	}
}
