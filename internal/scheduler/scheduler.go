package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// ErrQuotaExceeded is returned by Schedule when the per-user cap is hit.
var ErrQuotaExceeded = errors.New("reminder quota exceeded")

// Handler is invoked when an event fires. A returned error triggers a
// retry with exponential backoff up to the attempt cap.
type Handler func(ctx context.Context, event Event) error

const (
	fireAttempts     = 3
	fireInitialDelay = 2 * time.Second
)

// Config tunes the scheduler.
type Config struct {
	MaxRemindersPerUser int
	// GraceWindow drops events overdue by more than this at load time.
	// Zero means no dropping: overdue events fire immediately.
	GraceWindow time.Duration
	// CleanupExpired enables the hourly sweep of terminally failed events.
	CleanupExpired bool
}

// Scheduler owns pending reminders: persistence, timers, and at-most-once
// callback delivery. It never calls the orchestrator directly; the session
// layer supplies the handler.
type Scheduler struct {
	store   *Store
	handler Handler
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]Event
	firing  map[string]bool
	timers  map[string]*time.Timer
	seq     uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	sweeper *cron.Cron
}

// SetHandler updates the fire callback after initialization. This breaks
// the construction cycle with the session layer, which both owns the
// handler and needs the scheduler.
func (s *Scheduler) SetHandler(handler Handler) {
	if handler != nil {
		s.handler = handler
	}
}

// New creates a Scheduler. Start must be called before Schedule.
func New(store *Store, handler Handler, config Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		handler: handler,
		config:  config,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]Event),
		firing:  make(map[string]bool),
		timers:  make(map[string]*time.Timer),
	}
}

// Start loads persisted events, drops those past the grace window, and
// arms timers for the rest.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	events, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	now := s.now()
	kept := make([]Event, 0, len(events))
	for _, ev := range events {
		overdue := now.Sub(ev.FireAt)
		if s.config.GraceWindow > 0 && overdue > s.config.GraceWindow {
			s.logger.Info("dropping overdue reminder", "id", ev.ID, "fire_at", ev.FireAt)
			continue
		}
		kept = append(kept, ev)
	}
	if len(kept) != len(events) {
		if err := s.store.Save(kept); err != nil {
			return fmt.Errorf("rewrite events: %w", err)
		}
	}

	s.mu.Lock()
	for _, ev := range kept {
		s.pending[ev.ID] = ev
		// Keep the id sequence monotonic across restarts.
		var n uint64
		if _, err := fmt.Sscanf(ev.ID, "%d-", &n); err == nil && n > s.seq {
			s.seq = n
		}
		s.arm(ev)
	}
	s.mu.Unlock()

	if s.config.CleanupExpired {
		s.sweeper = cron.New()
		if _, err := s.sweeper.AddFunc("@every 1h", s.sweep); err != nil {
			return fmt.Errorf("register cleanup sweep: %w", err)
		}
		s.sweeper.Start()
	}

	s.logger.Info("scheduler started", "pending", len(kept))
	return nil
}

// Stop cancels outstanding timers and waits for in-flight callbacks.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.wg.Wait()
}

// Schedule persists and arms a new event, enforcing the per-user cap.
// The returned id is monotonically assigned.
func (s *Scheduler) Schedule(content string, fireAt time.Time, channelRef, userRef string) (string, error) {
	s.mu.Lock()
	if s.config.MaxRemindersPerUser > 0 && s.countForUser(userRef) >= s.config.MaxRemindersPerUser {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: user %s already has %d reminders", ErrQuotaExceeded, userRef, s.config.MaxRemindersPerUser)
	}

	s.seq++
	ev := Event{
		ID:         fmt.Sprintf("%06d-%s", s.seq, uuid.New().String()[:8]),
		Content:    content,
		FireAt:     fireAt.UTC(),
		ChannelRef: channelRef,
		UserRef:    userRef,
		CreatedAt:  s.now().UTC(),
	}
	s.pending[ev.ID] = ev
	events := s.snapshotLocked()
	s.arm(ev)
	s.mu.Unlock()

	if err := s.store.Save(events); err != nil {
		s.mu.Lock()
		delete(s.pending, ev.ID)
		if t, ok := s.timers[ev.ID]; ok {
			t.Stop()
			delete(s.timers, ev.ID)
		}
		s.mu.Unlock()
		return "", fmt.Errorf("persist event: %w", err)
	}

	s.logger.Info("reminder scheduled", "id", ev.ID, "fire_at", ev.FireAt, "user", userRef)
	return ev.ID, nil
}

// Cancel removes a pending event.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	_, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, id)
	if t, exists := s.timers[id]; exists {
		t.Stop()
		delete(s.timers, id)
	}
	events := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.Save(events); err != nil {
		s.logger.Error("persist after cancel failed", "id", id, "error", err)
	}
	return true
}

// Pending returns a snapshot of not-yet-fired events.
func (s *Scheduler) Pending() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// arm starts the timer for ev. Callers hold the mutex.
func (s *Scheduler) arm(ev Event) {
	delay := time.Until(ev.FireAt)
	if delay < 0 {
		delay = 0
	}
	s.timers[ev.ID] = time.AfterFunc(delay, func() { s.fire(ev.ID) })
}

// fire delivers one event at most once: it is marked firing before the
// callback runs, deleted on success, and retried with backoff on failure.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	ev, ok := s.pending[id]
	if !ok || s.firing[id] {
		s.mu.Unlock()
		return
	}
	if s.handler == nil {
		s.mu.Unlock()
		s.logger.Error("no handler registered, keeping event", "id", id)
		return
	}
	s.firing[id] = true
	delete(s.timers, id)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.firing, id)
			s.mu.Unlock()
		}()

		delay := fireInitialDelay
		for attempt := 1; attempt <= fireAttempts; attempt++ {
			if s.ctx.Err() != nil {
				return
			}
			err := s.handler(s.ctx, ev)
			if err == nil {
				s.remove(id)
				s.logger.Info("reminder fired", "id", id)
				return
			}
			s.logger.Warn("reminder callback failed", "id", id, "attempt", attempt, "error", err)
			if attempt < fireAttempts {
				select {
				case <-time.After(delay):
					delay *= 2
				case <-s.ctx.Done():
					return
				}
			}
		}
		// Terminal failure: the event stays persisted for the sweep (or
		// manual inspection) rather than silently disappearing.
		s.logger.Error("reminder delivery abandoned", "id", id)
	}()
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	events := s.snapshotLocked()
	s.mu.Unlock()
	if err := s.store.Save(events); err != nil {
		s.logger.Error("persist after fire failed", "id", id, "error", err)
	}
}

// sweep deletes events whose fire time is long past; these are terminal
// failures that will never deliver.
func (s *Scheduler) sweep() {
	cutoff := s.now().Add(-24 * time.Hour)
	s.mu.Lock()
	removed := 0
	for id, ev := range s.pending {
		if ev.FireAt.Before(cutoff) && !s.firing[id] {
			delete(s.pending, id)
			removed++
		}
	}
	events := s.snapshotLocked()
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("swept expired reminders", "count", removed)
		if err := s.store.Save(events); err != nil {
			s.logger.Error("persist after sweep failed", "error", err)
		}
	}
}

func (s *Scheduler) countForUser(userRef string) int {
	n := 0
	for _, ev := range s.pending {
		if ev.UserRef == userRef {
			n++
		}
	}
	return n
}

func (s *Scheduler) snapshotLocked() []Event {
	out := make([]Event, 0, len(s.pending))
	for _, ev := range s.pending {
		out = append(out, ev)
	}
	return out
}
