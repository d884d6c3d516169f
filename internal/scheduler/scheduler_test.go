package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, handler Handler, cfg Config) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "events.json"))
	s := New(store, handler, cfg, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, store
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestScheduleFiresOnce(t *testing.T) {
	var fired atomic.Int64
	var got atomic.Value
	s, store := newTestScheduler(t, func(_ context.Context, ev Event) error {
		fired.Add(1)
		got.Store(ev)
		return nil
	}, Config{MaxRemindersPerUser: 5})

	_, err := s.Schedule("stretch", time.Now().Add(50*time.Millisecond), "chan-1", "user-1")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return fired.Load() == 1 })

	ev := got.Load().(Event)
	if ev.Content != "stretch" || ev.ChannelRef != "chan-1" {
		t.Errorf("wrong event delivered: %+v", ev)
	}

	// Fired events leave the store.
	waitFor(t, 2*time.Second, func() bool {
		events, _ := store.Load()
		return len(events) == 0
	})
	if fired.Load() != 1 {
		t.Errorf("event fired %d times", fired.Load())
	}
}

func TestQuotaExceeded(t *testing.T) {
	s, _ := newTestScheduler(t, func(context.Context, Event) error { return nil },
		Config{MaxRemindersPerUser: 2})

	future := time.Now().Add(time.Hour)
	for i := 0; i < 2; i++ {
		if _, err := s.Schedule("r", future, "c", "user-1"); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	_, err := s.Schedule("r", future, "c", "user-1")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	// A different user is unaffected.
	if _, err := s.Schedule("r", future, "c", "user-2"); err != nil {
		t.Fatalf("other user rejected: %v", err)
	}
}

func TestCancelRemoves(t *testing.T) {
	var fired atomic.Int64
	s, store := newTestScheduler(t, func(context.Context, Event) error {
		fired.Add(1)
		return nil
	}, Config{})

	id, err := s.Schedule("soon", time.Now().Add(100*time.Millisecond), "c", "u")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !s.Cancel(id) {
		t.Fatal("cancel returned false")
	}
	time.Sleep(300 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled event fired")
	}
	events, _ := store.Load()
	if len(events) != 0 {
		t.Errorf("cancelled event still persisted: %+v", events)
	}
}

func TestRetryOnCallbackFailure(t *testing.T) {
	var attempts atomic.Int64
	s, _ := newTestScheduler(t, func(context.Context, Event) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	}, Config{})

	if _, err := s.Schedule("retry me", time.Now().Add(30*time.Millisecond), "c", "u"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitFor(t, 10*time.Second, func() bool { return attempts.Load() >= 2 })
}

func TestRestartRestoresPendingEvents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")

	store := NewStore(path)
	first := New(store, func(context.Context, Event) error { return nil }, Config{}, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.Schedule("survive", time.Now().Add(time.Hour), "chan", "user"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	first.Stop()

	var fired atomic.Int64
	second := New(NewStore(path), func(_ context.Context, ev Event) error {
		fired.Add(1)
		return nil
	}, Config{}, nil)
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	t.Cleanup(second.Stop)

	pending := second.Pending()
	if len(pending) != 1 || pending[0].Content != "survive" {
		t.Fatalf("event not restored: %+v", pending)
	}
}

func TestGraceWindowDropsOverdue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	store := NewStore(path)
	if err := store.Save([]Event{{
		ID:      "000001-old",
		Content: "ancient",
		FireAt:  time.Now().Add(-time.Hour),
	}, {
		ID:      "000002-soon",
		Content: "future",
		FireAt:  time.Now().Add(time.Hour),
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(NewStore(path), func(context.Context, Event) error { return nil },
		Config{GraceWindow: time.Minute}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)

	pending := s.Pending()
	if len(pending) != 1 || pending[0].Content != "future" {
		t.Fatalf("overdue event not dropped: %+v", pending)
	}
}

func TestOverdueFiresImmediatelyWithoutGrace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	if err := NewStore(path).Save([]Event{{
		ID:      "000001-late",
		Content: "late but loved",
		FireAt:  time.Now().Add(-time.Minute),
	}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var fired atomic.Int64
	s := New(NewStore(path), func(context.Context, Event) error {
		fired.Add(1)
		return nil
	}, Config{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)

	waitFor(t, 3*time.Second, func() bool { return fired.Load() == 1 })
}

func TestMonotonicIDsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	if err := NewStore(path).Save([]Event{{
		ID:     "000007-aaaa",
		FireAt: time.Now().Add(time.Hour),
	}}); err != nil {
		t.Fatal(err)
	}

	s := New(NewStore(path), func(context.Context, Event) error { return nil }, Config{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)

	id, err := s.Schedule("next", time.Now().Add(time.Hour), "c", "u")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if id[:6] != "000008" {
		t.Errorf("expected sequence to continue at 8, got %q", id)
	}
}
