package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/hatsuka/internal/agent"
	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/internal/scheduler"
	"github.com/user/hatsuka/internal/trend"
	"github.com/user/hatsuka/pkg/llm"
)

var (
	// ErrNotPermitted rejects a request failing the permission gate.
	ErrNotPermitted = errors.New("not permitted")
	// ErrMaintenance rejects requests while maintenance mode is on.
	ErrMaintenance = errors.New("maintenance mode")
)

// Request is one inbound invocation from a transport adapter.
type Request struct {
	Content     string
	OriginID    string
	Timestamp   time.Time
	History     []conversation.Message
	Attachments []conversation.Attachment

	Actor      Actor
	ChannelRef string
	UserRef    string
	GuildRef   string

	// GlobalMetadata is an opaque hint string forwarded into prompts.
	GlobalMetadata string

	Observer       progress.Observer
	ObserverConfig progress.ObserverConfig

	// Notify delivers out-of-band user-visible notices (e.g. reminder
	// quota errors). May be nil.
	Notify func(text string)
}

// Session wires the collaborators around the orchestrator graph.
type Session struct {
	cfg       *config.Config
	gate      *Gate
	collector *conversation.Collector
	graph     *agent.Graph
	provider  llm.Provider
	scheduler *scheduler.Scheduler
	trends    *trend.Engine
	cache     *MessageCache
	queue     *Queue
	logger    *slog.Logger

	// Deliver sends text to a channel outside a live invocation; used by
	// reminder re-entry.
	Deliver func(channelRef, text string) error
}

// New creates the session glue. scheduler and trends may be nil when the
// corresponding features are disabled.
func New(
	cfg *config.Config,
	collector *conversation.Collector,
	graph *agent.Graph,
	provider llm.Provider,
	sched *scheduler.Scheduler,
	trends *trend.Engine,
	logger *slog.Logger,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:       cfg,
		gate:      NewGate(cfg.Discord.Permissions),
		collector: collector,
		graph:     graph,
		provider:  provider,
		scheduler: sched,
		trends:    trends,
		cache:     NewMessageCache(cfg.Trend.MessageHistoryLimit*5, time.Hour),
		queue:     NewQueue(2),
		logger:    logger,
	}
}

// Start brings up the run queue.
func (s *Session) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains the run queue.
func (s *Session) Stop() { s.queue.Stop() }

// CacheMessage records a channel message for trend analysis.
func (s *Session) CacheMessage(channelID string, msg trend.CachedMessage) {
	s.cache.Add(channelID, msg)
}

// OfferTrend gives the trend engine first claim on a message event.
// It reports whether the engine emitted, in which case the request must
// not reach the graph.
func (s *Session) OfferTrend(ctx context.Context, channelID, guildID string, msg trend.CachedMessage, send func(trend.Emission) error) bool {
	if s.trends == nil {
		return false
	}
	history := s.cache.Recent(channelID, s.cfg.Trend.MessageHistoryLimit)
	claimed, err := s.trends.HandleMessage(ctx, channelID, guildID, msg, history, send)
	if err != nil {
		s.logger.Warn("trend handling failed", "channel", channelID, "error", err)
		return false
	}
	return claimed
}

// OfferReactionTrend gives the trend engine a reaction event.
func (s *Session) OfferReactionTrend(ctx context.Context, channelID string, count int, botReacted bool, add func() error) {
	if s.trends == nil {
		return
	}
	if _, err := s.trends.HandleReaction(ctx, channelID, count, botReacted, add); err != nil {
		s.logger.Warn("reaction trend handling failed", "channel", channelID, "error", err)
	}
}

// Handle admits one request: permission gate, collection, graph run,
// reminder scheduling. Delivery happens through the request's observer.
func (s *Session) Handle(ctx context.Context, req Request) error {
	if s.cfg.Discord.Maintenance.Enabled {
		return ErrMaintenance
	}
	if !s.gate.Allow(req.Actor) {
		return ErrNotPermitted
	}

	return s.queue.Enqueue(&Run{
		ChannelID: req.ChannelRef,
		Ctx:       ctx,
		Execute: func(runCtx context.Context) error {
			return s.invoke(runCtx, req)
		},
	})
}

// invoke runs one graph invocation synchronously.
func (s *Session) invoke(ctx context.Context, req Request) error {
	collected, err := s.collector.Collect(conversation.Request{
		Content:     req.Content,
		OriginID:    req.OriginID,
		Timestamp:   req.Timestamp,
		History:     req.History,
		Attachments: req.Attachments,
	})
	if err != nil {
		if req.Observer != nil {
			req.Observer.OnError(err)
		}
		return fmt.Errorf("collect: %w", err)
	}

	state := &agent.State{
		Messages:       collected.Messages,
		ChannelRef:     req.ChannelRef,
		UserRef:        req.UserRef,
		GuildRef:       req.GuildRef,
		GlobalMetadata: req.GlobalMetadata,
	}

	bus := progress.NewBus(progress.BusConfig{
		AutoGenerateMessages: s.cfg.Progress.Discord.AutoGenerateMessages,
		Templates:            s.cfg.Progress.Discord.Messages,
		Blurb:                s.blurbFunc(state),
		Logger:               s.logger,
	})
	if req.Observer != nil {
		bus.Subscribe(req.Observer, req.ObserverConfig)
	}
	defer bus.Close()

	bus.EmitProgress(ctx, progress.Event{Stage: progress.StageStarting, ProgressPct: 5, ETASeconds: -1})

	if err := s.graph.Run(ctx, state, bus); err != nil {
		return err
	}

	s.scheduleReminders(state, req.Notify)
	return nil
}

// scheduleReminders promotes tool side effects into scheduled events.
// Quota failures are surfaced to the user via the notify hook.
func (s *Session) scheduleReminders(state *agent.State, notify func(string)) {
	if s.scheduler == nil || len(state.Reminders) == 0 {
		return
	}
	for _, r := range state.Reminders {
		_, err := s.scheduler.Schedule(r.Content, r.FireAt, r.ChannelRef, r.UserRef)
		if err == nil {
			continue
		}
		if errors.Is(err, scheduler.ErrQuotaExceeded) {
			s.logger.Info("reminder rejected", "user", r.UserRef, "error", err)
			if notify != nil {
				notify("提醒數量已達上限，請先取消一些舊的提醒。")
			}
			continue
		}
		s.logger.Error("reminder scheduling failed", "error", err)
		if notify != nil {
			notify("提醒設定失敗，請稍後再試。")
		}
	}
}

// HandleReminderFired is the scheduler callback: it re-enters the graph
// with a synthesized prompt and delivers the completion to the stored
// channel.
func (s *Session) HandleReminderFired(ctx context.Context, ev scheduler.Event) error {
	if s.Deliver == nil {
		return fmt.Errorf("no delivery function configured")
	}

	collected, err := s.collector.Collect(conversation.Request{
		Content:   fmt.Sprintf("（提醒時間到了）remind me: %s", ev.Content),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("collect reminder prompt: %w", err)
	}

	state := &agent.State{
		Messages:   collected.Messages,
		ChannelRef: ev.ChannelRef,
		UserRef:    ev.UserRef,
	}

	done := make(chan error, 1)
	bus := progress.NewBus(progress.BusConfig{Logger: s.logger})
	bus.Subscribe(&deliveryObserver{
		deliver: func(text string) error { return s.Deliver(ev.ChannelRef, text) },
		done:    done,
	}, progress.ObserverConfig{})
	defer bus.Close()

	if err := s.graph.Run(ctx, state, bus); err != nil {
		return fmt.Errorf("reminder graph run: %w", err)
	}
	bus.Close()
	return <-done
}

// blurbFunc adapts the progress_blurb role for the bus.
func (s *Session) blurbFunc(state *agent.State) progress.BlurbFunc {
	return func(ctx context.Context, stage progress.Stage) (string, error) {
		resp, err := s.provider.Complete(ctx, llm.Request{
			Role: llm.RoleProgressBlurb,
			Messages: []llm.Message{{
				Role: "user",
				Content: fmt.Sprintf(
					"用不超過16個字描述你正在「%s」階段處理以下請求的狀態，俏皮一點：%s",
					stage, state.ResearchTopic,
				),
			}},
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
}

// deliveryObserver delivers the final text of a headless invocation.
type deliveryObserver struct {
	deliver func(text string) error
	done    chan error
}

func (o *deliveryObserver) OnProgress(progress.Event)         {}
func (o *deliveryObserver) OnStreamingChunk(progress.Chunk)   {}
func (o *deliveryObserver) OnStreamingComplete()              {}
func (o *deliveryObserver) OnCompletion(text string, _ []llm.Source) {
	o.done <- o.deliver(text)
}
func (o *deliveryObserver) OnError(err error) {
	o.done <- err
}
