package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Run is one queued invocation.
type Run struct {
	ChannelID string
	Ctx       context.Context
	Execute   func(ctx context.Context) error
}

// Queue manages per-channel lanes with a global concurrency semaphore.
// Each channel gets its own FIFO lane so invocations within a channel are
// processed sequentially, while the semaphore limits total concurrency.
type Queue struct {
	lanes     map[string]chan *Run
	semaphore *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue allowing up to maxConcurrent simultaneous runs.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &Queue{
		lanes:     make(map[string]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight runs to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[string]chan *Run)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its channel lane, creating the lane on first use.
// Returns an error when the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[run.ChannelID]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.ChannelID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for channel %s", run.ChannelID)
	}
}

// processLane drains one lane, acquiring a semaphore slot before running
// the invocation synchronously: strict FIFO within a channel, bounded
// parallelism across channels.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			ctx := run.Ctx
			if ctx == nil {
				ctx = q.ctx
			}
			if err := run.Execute(ctx); err != nil {
				slog.Error("run failed", "channel", run.ChannelID, "error", err)
			}
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}
