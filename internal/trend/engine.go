package trend

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/outputmedia"
	"github.com/user/hatsuka/pkg/llm"
)

const lockWait = 100 * time.Millisecond

// fallbackEmojis are used when no model or registry is available.
var fallbackEmojis = []string{
	"😄", "👍", "❤️", "😊", "🎉", "😂", "🔥", "💯",
	"👌", "😍", "🤔", "😅", "🙌", "💪", "🚀", "✨",
}

// Emission is a decided trend action for the transport to perform.
type Emission struct {
	Kind  ContentKind
	Value string // text, emoji string, or sticker id
}

// Engine decides whether to follow channel trends. It is independent from
// the orchestrator graph and runs on raw chat events.
type Engine struct {
	config   config.TrendConfig
	provider llm.Provider
	emoji    *outputmedia.Registry
	logger   *slog.Logger
	now      func() time.Time
	randFn   func() float64
	sleep    func(context.Context, time.Duration) bool

	mu              sync.Mutex
	lastEmission    map[string]time.Time
	messageLocks    map[string]chan struct{}
	reactionLocks   map[string]chan struct{}
	pendingMessage  map[string]bool
	pendingReaction map[string]bool
}

// NewEngine creates the trend engine. provider and emoji may be nil; emoji
// trend replies then come from the static fallback list.
func NewEngine(cfg config.TrendConfig, provider llm.Provider, emoji *outputmedia.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:          cfg,
		provider:        provider,
		emoji:           emoji,
		logger:          logger,
		now:             time.Now,
		randFn:          rand.Float64,
		sleep:           sleepCtx,
		lastEmission:    make(map[string]time.Time),
		messageLocks:    make(map[string]chan struct{}),
		reactionLocks:   make(map[string]chan struct{}),
		pendingMessage:  make(map[string]bool),
		pendingReaction: make(map[string]bool),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// EnabledInChannel reports whether the engine may act in the channel. An
// empty allow list permits all channels.
func (e *Engine) EnabledInChannel(channelID string) bool {
	if !e.config.Enabled {
		return false
	}
	if len(e.config.AllowedChannels) == 0 {
		return true
	}
	for _, id := range e.config.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// InCooldown reports whether the channel emitted within the cooldown
// window.
func (e *Engine) InCooldown(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inCooldownLocked(channelID)
}

func (e *Engine) inCooldownLocked(channelID string) bool {
	last, ok := e.lastEmission[channelID]
	if !ok {
		return false
	}
	return e.now().Sub(last) < time.Duration(e.config.CooldownSeconds)*time.Second
}

func (e *Engine) markEmission(channelID string) {
	e.mu.Lock()
	e.lastEmission[channelID] = e.now()
	e.mu.Unlock()
}

// ShouldFollow applies the probabilistic gate: below the threshold never;
// at or above it, p = min(max, base + excess*boost) when probabilistic
// gating is enabled, else always.
func (e *Engine) ShouldFollow(count, threshold int) bool {
	if count < threshold {
		return false
	}
	if !e.config.EnableProbabilistic {
		return true
	}
	excess := count - threshold
	p := e.config.BaseProbability + float64(excess)*e.config.BoostFactor
	if p > e.config.MaxProbability {
		p = e.config.MaxProbability
	}
	return e.randFn() < p
}

// HandleMessage evaluates content and emoji trends for a new message.
// Content trend has strictly higher priority. It reports false when the
// engine declines. send performs the actual transport write.
func (e *Engine) HandleMessage(ctx context.Context, channelID, guildID string, msg CachedMessage, history []CachedMessage, send func(Emission) error) (bool, error) {
	if !e.EnabledInChannel(channelID) || e.InCooldown(channelID) || msg.IsBot {
		return false, nil
	}

	lock := e.lock(e.messageLocks, channelID)
	if !acquire(ctx, lock, lockWait) {
		return false, nil // another decision in flight; skip cleanly
	}
	defer release(lock)

	// Re-check after the wait: the previous holder may have emitted.
	if e.InCooldown(channelID) {
		return false, nil
	}

	e.mu.Lock()
	if e.pendingMessage[channelID] {
		e.mu.Unlock()
		return false, nil
	}
	e.mu.Unlock()

	emission := e.decideContent(msg, history)
	if emission == nil {
		emission = e.decideEmoji(ctx, guildID, msg, history)
	}
	if emission == nil {
		return false, nil
	}

	e.mu.Lock()
	e.pendingMessage[channelID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pendingMessage, channelID)
		e.mu.Unlock()
	}()

	if e.config.EnableRandomDelay {
		delay := e.randomDelay(e.config.MinDelaySeconds, e.config.MaxDelaySeconds)
		if !e.sleep(ctx, delay) {
			return false, ctx.Err()
		}
		if e.InCooldown(channelID) {
			return false, nil // someone else won during the delay
		}
	}

	if err := send(*emission); err != nil {
		return false, fmt.Errorf("send trend emission: %w", err)
	}
	e.markEmission(channelID)
	e.logger.Info("trend followed", "channel", channelID, "kind", string(emission.Kind))
	return true, nil
}

// HandleReaction evaluates the reaction trend. count is the reaction's
// current total; botReacted indicates the bot already added it. add
// performs the transport write.
func (e *Engine) HandleReaction(ctx context.Context, channelID string, count int, botReacted bool, add func() error) (bool, error) {
	if !e.EnabledInChannel(channelID) || e.InCooldown(channelID) || botReacted {
		return false, nil
	}

	lock := e.lock(e.reactionLocks, channelID)
	if !acquire(ctx, lock, lockWait) {
		return false, nil
	}
	defer release(lock)

	if e.InCooldown(channelID) {
		return false, nil
	}

	e.mu.Lock()
	if e.pendingReaction[channelID] {
		e.mu.Unlock()
		return false, nil
	}
	e.pendingReaction[channelID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pendingReaction, channelID)
		e.mu.Unlock()
	}()

	if !e.ShouldFollow(count, e.config.ReactionThreshold) {
		return false, nil
	}

	if e.config.EnableRandomDelay {
		max := e.config.MaxDelaySeconds
		if max > 1.0 {
			max = 1.0 // reactions use a shorter delay
		}
		if !e.sleep(ctx, e.randomDelay(0.2, max)) {
			return false, ctx.Err()
		}
	}

	if err := add(); err != nil {
		return false, fmt.Errorf("add trend reaction: %w", err)
	}
	e.markEmission(channelID)
	e.logger.Info("reaction trend followed", "channel", channelID)
	return true, nil
}

// decideContent checks for a streak of identical content not already
// joined by the bot.
func (e *Engine) decideContent(msg CachedMessage, history []CachedMessage) *Emission {
	if msg.Kind == "" || msg.Value == "" {
		return nil
	}
	run, botInRun := streak(history, func(m CachedMessage) bool {
		return m.Kind == msg.Kind && m.Value == msg.Value
	})
	if botInRun {
		return nil
	}
	if !e.ShouldFollow(run+1, e.config.ContentThreshold) {
		return nil
	}
	return &Emission{Kind: msg.Kind, Value: msg.Value}
}

// decideEmoji checks for a streak of emoji-only messages and produces a
// model-generated (or fallback) emoji reply.
func (e *Engine) decideEmoji(ctx context.Context, guildID string, msg CachedMessage, history []CachedMessage) *Emission {
	if msg.Kind != KindText || !IsEmojiOnly(msg.Value) {
		return nil
	}
	run, botInRun := streak(history, func(m CachedMessage) bool {
		return m.Kind == KindText && IsEmojiOnly(m.Value)
	})
	if botInRun {
		return nil
	}
	if !e.ShouldFollow(run+1, e.config.EmojiThreshold) {
		return nil
	}
	return &Emission{Kind: KindText, Value: e.generateEmoji(ctx, guildID, history)}
}

// generateEmoji asks the model for a contextual emoji reply, falling back
// to the static list on any failure.
func (e *Engine) generateEmoji(ctx context.Context, guildID string, history []CachedMessage) string {
	fallback := fallbackEmojis[rand.Intn(len(fallbackEmojis))]
	if e.provider == nil {
		return fallback
	}

	var emojiContext string
	if e.emoji != nil {
		emojiContext = e.emoji.BuildPromptContext(guildID)
	}
	var recent []string
	for _, m := range history {
		if m.Text != "" {
			recent = append(recent, m.Text)
		}
	}
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	if emojiContext == "" && len(recent) == 0 {
		return fallback
	}

	prompt := fmt.Sprintf(`你正在參與一個頻道的 emoji 跟風活動。最近有多條訊息都只包含 emoji，請根據對話上下文選擇一個適合的 emoji 來回應。
最近的對話內容：
%s

%s

只需要回傳一個 emoji，不要其他文字。`, strings.Join(recent, "\n"), emojiContext)

	resp, err := e.provider.Complete(ctx, llm.Request{
		Role:     llm.RoleProgressBlurb,
		Messages: []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		e.logger.Warn("emoji generation failed", "error", err)
		return fallback
	}
	if emoji := FirstEmoji(strings.TrimSpace(resp.Content)); emoji != "" {
		return emoji
	}
	return fallback
}

func (e *Engine) randomDelay(min, max float64) time.Duration {
	if max <= min {
		return time.Duration(min * float64(time.Second))
	}
	return time.Duration((min + e.randFn()*(max-min)) * float64(time.Second))
}

// lock returns the channel's lock, creating it on first use.
func (e *Engine) lock(locks map[string]chan struct{}, channelID string) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := locks[channelID]
	if !ok {
		l = make(chan struct{}, 1)
		locks[channelID] = l
	}
	return l
}

// acquire tries to take the lock within the wait budget.
func acquire(ctx context.Context, lock chan struct{}, wait time.Duration) bool {
	select {
	case lock <- struct{}{}:
		return true
	case <-time.After(wait):
		return false
	case <-ctx.Done():
		return false
	}
}

func release(lock chan struct{}) { <-lock }
