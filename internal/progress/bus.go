package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/hatsuka/pkg/llm"
)

// BlurbFunc produces a short stage blurb from recent conversation context.
// It must respect ctx and return quickly; failures fall back to templates.
type BlurbFunc func(ctx context.Context, stage Stage) (string, error)

const (
	blurbTimeout   = 2 * time.Second
	blurbMaxRunes  = 16
	defaultQueue   = 32
	defaultMaxSize = 1500
)

// defaultTemplates are the static per-stage fallbacks.
var defaultTemplates = map[Stage]string{
	StageStarting:      "準備中...",
	StageGenerateQuery: "分析請求中...",
	StageSearching:     "搜尋中...",
	StageAnalyzing:     "分析結果中...",
	StageReflection:    "反思中...",
	StageFinalize:      "整理回答中...",
	StageCompleted:     "完成!",
	StageError:         "發生錯誤",
	StageTimeout:       "處理逾時",
	StageToolExecution: "執行工具中...",
}

// BusConfig tunes bus-level behavior.
type BusConfig struct {
	AutoGenerateMessages bool
	Templates            map[string]string // stage -> template override
	Blurb                BlurbFunc
	Logger               *slog.Logger
}

// Bus is a per-invocation fanout of progress events to observers.
// Registration must complete before the graph runs.
type Bus struct {
	config BusConfig
	logger *slog.Logger

	mu          sync.Mutex
	subscribers []*subscriber
	terminated  bool // completion or error already emitted
}

// NewBus creates an empty bus.
func NewBus(config BusConfig) *Bus {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{config: config, logger: logger}
}

// Subscribe registers an observer. Must not be called once the graph runs.
func (b *Bus) Subscribe(obs Observer, cfg ObserverConfig) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueue
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = defaultMaxSize
	}
	sub := newSubscriber(obs, cfg, b.logger)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()
}

// HasObservers reports whether any observer is registered.
func (b *Bus) HasObservers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers) > 0
}

// EmitProgress delivers a stage event to all observers. Empty messages may
// be auto-filled with a generated blurb or a static template.
func (b *Bus) EmitProgress(ctx context.Context, event Event) {
	if event.Message == "" {
		event.Message = b.messageFor(ctx, event.Stage)
	}
	b.each(func(s *subscriber) { s.enqueue(item{kind: kindProgress, event: event}, false) })
}

// EmitChunk delivers a streaming chunk. Final chunks are never dropped.
func (b *Bus) EmitChunk(chunk Chunk) {
	b.each(func(s *subscriber) { s.enqueue(item{kind: kindChunk, chunk: chunk}, chunk.IsFinal) })
}

// EmitStreamingComplete signals end of streaming; never dropped.
func (b *Bus) EmitStreamingComplete() {
	b.each(func(s *subscriber) { s.enqueue(item{kind: kindStreamDone}, true) })
}

// EmitCompletion delivers the final text exactly once. A second call, or a
// call after EmitError, is a no-op.
func (b *Bus) EmitCompletion(finalText string, sources []llm.Source) {
	if !b.claimTerminal() {
		return
	}
	b.each(func(s *subscriber) { s.enqueue(item{kind: kindCompletion, text: finalText, sources: sources}, true) })
}

// EmitError delivers an unrecoverable failure exactly once, mutually
// exclusive with EmitCompletion.
func (b *Bus) EmitError(err error) {
	if !b.claimTerminal() {
		return
	}
	b.each(func(s *subscriber) { s.enqueue(item{kind: kindError, err: err}, true) })
}

// Close flushes and stops all subscriber workers, blocking until drained.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

func (b *Bus) claimTerminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return false
	}
	b.terminated = true
	return true
}

func (b *Bus) each(fn func(*subscriber)) {
	b.mu.Lock()
	subs := b.subscribers
	b.mu.Unlock()
	for _, s := range subs {
		fn(s)
	}
}

// messageFor resolves the event message: generated blurb when enabled and
// the stage is not high-frequency, else the configured or built-in
// template.
func (b *Bus) messageFor(ctx context.Context, stage Stage) string {
	if b.config.AutoGenerateMessages && b.config.Blurb != nil &&
		stage != StageToolStatus && stage != StageStreaming {
		blurbCtx, cancel := context.WithTimeout(ctx, blurbTimeout)
		defer cancel()
		if text, err := b.config.Blurb(blurbCtx, stage); err == nil && text != "" {
			return truncateRunes(text, blurbMaxRunes)
		}
	}
	if tmpl, ok := b.config.Templates[string(stage)]; ok {
		return tmpl
	}
	return defaultTemplates[stage]
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
