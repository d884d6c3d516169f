package progress

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/hatsuka/pkg/llm"
)

type itemKind int

const (
	kindProgress itemKind = iota
	kindChunk
	kindStreamDone
	kindCompletion
	kindError
)

type item struct {
	kind    itemKind
	event   Event
	chunk   Chunk
	text    string
	sources []llm.Source
	err     error
}

// subscriber owns one observer: a bounded queue drained by a dedicated
// goroutine, so delivery is concurrent across observers but ordered within
// one. Non-critical stage ticks are dropped oldest-first under pressure;
// terminal items are always preserved.
type subscriber struct {
	observer Observer
	config   ObserverConfig
	logger   *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []item
	closed bool

	// chunk coalescing state, only touched by the drain goroutine
	buffer    strings.Builder
	lastFlush time.Time

	done chan struct{}
}

func newSubscriber(obs Observer, cfg ObserverConfig, logger *slog.Logger) *subscriber {
	s := &subscriber{
		observer: obs,
		config:   cfg,
		logger:   logger,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()
	return s
}

// enqueue appends an item. When the queue is full a non-critical item
// evicts the oldest droppable entry; critical items always enter.
func (s *subscriber) enqueue(it item, critical bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.config.QueueSize {
		if !critical {
			if !s.evictOldestDroppable() {
				return // nothing evictable and the tick itself is droppable
			}
		} else {
			s.evictOldestDroppable() // best effort; criticals enter regardless
		}
	}
	s.queue = append(s.queue, it)
	s.cond.Signal()
}

// evictOldestDroppable removes the first non-critical queue entry.
func (s *subscriber) evictOldestDroppable() bool {
	for i, it := range s.queue {
		if it.kind == kindProgress || (it.kind == kindChunk && !it.chunk.IsFinal) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.done
}

func (s *subscriber) drain() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		it := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(it)
	}
}

// deliver dispatches one item, applying chunk coalescing. Observer panics
// are logged at warn and never propagate.
func (s *subscriber) deliver(it item) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Warn("observer failed", "panic", rec)
		}
	}()

	switch it.kind {
	case kindProgress:
		s.observer.OnProgress(it.event)
	case kindChunk:
		s.coalesce(it.chunk)
	case kindStreamDone:
		s.flush(false)
		s.observer.OnStreamingComplete()
	case kindCompletion:
		s.flush(false)
		s.observer.OnCompletion(it.text, it.sources)
	case kindError:
		s.observer.OnError(it.err)
	}
}

// coalesce accumulates chunk content and flushes on the observer's minimum
// interval, the size ceiling, or a final chunk.
func (s *subscriber) coalesce(chunk Chunk) {
	s.buffer.WriteString(chunk.Content)
	interval := time.Duration(s.config.MinIntervalSeconds * float64(time.Second))
	switch {
	case chunk.IsFinal:
		s.flush(true)
	case s.buffer.Len() >= s.config.MaxChunkSize:
		s.flush(false)
	case interval <= 0 || time.Since(s.lastFlush) >= interval:
		s.flush(false)
	}
}

func (s *subscriber) flush(final bool) {
	if s.buffer.Len() == 0 && !final {
		return
	}
	content := s.buffer.String()
	s.buffer.Reset()
	s.lastFlush = time.Now()
	s.observer.OnStreamingChunk(Chunk{Content: content, IsFinal: final})
}
