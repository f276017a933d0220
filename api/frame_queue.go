package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/brushcast/brushcast/wire"
)

// ErrQueueClosed is returned by Enqueue and Dequeue once the owning session
// has begun closing.
var ErrQueueClosed = errors.New("frame queue is closed")

// DrainPolicy selects which queued frames are actually processed.
type DrainPolicy int

const (
	// DrainLatest keeps only the most recent frame; superseded frames are
	// discarded without being processed.
	DrainLatest DrainPolicy = iota
	// DrainAll processes every enqueued frame in arrival order.
	DrainAll
)

func (p DrainPolicy) String() string {
	if p == DrainAll {
		return "process-all"
	}
	return "latest-wins"
}

// Frame is one unit of client input: generation parameters plus an optional
// encoded image payload. Frames are immutable once enqueued.
type Frame struct {
	Params     wire.GenerationParams
	Image      []byte
	ReceivedAt time.Time
}

// FrameQueue buffers frames between the socket reader and the session's
// consumer task. It is owned exclusively by one session.
type FrameQueue struct {
	mu     sync.Mutex
	policy DrainPolicy
	// maxDepth bounds the process-all backlog; 0 means unbounded. When the
	// bound is hit the oldest frame is dropped, matching latest-wins at the
	// margin rather than stalling the reader.
	maxDepth int
	frames   []*Frame
	dropped  int64
	closed   bool
	signal   chan struct{}
	done     chan struct{}
	// onClear runs under the queue lock so a clear and its side effects are
	// atomic with respect to concurrent enqueues.
	onClear func()
}

// NewFrameQueue creates a queue with the given drain policy. maxDepth only
// applies to DrainAll.
func NewFrameQueue(policy DrainPolicy, maxDepth int) *FrameQueue {
	return &FrameQueue{
		policy:   policy,
		maxDepth: maxDepth,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetOnClear registers a hook invoked atomically with Clear.
func (q *FrameQueue) SetOnClear(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onClear = fn
}

// Enqueue adds a frame under the queue's drain policy.
func (q *FrameQueue) Enqueue(f *Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	switch q.policy {
	case DrainLatest:
		if len(q.frames) > 0 {
			q.dropped += int64(len(q.frames))
			q.frames = q.frames[:0]
		}
		q.frames = append(q.frames, f)
	default:
		if q.maxDepth > 0 && len(q.frames) >= q.maxDepth {
			q.frames = q.frames[1:]
			q.dropped++
		}
		q.frames = append(q.frames, f)
	}
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a frame is available, the context is cancelled, or
// the queue closes. Frames already buffered at close time are still
// delivered before ErrQueueClosed.
func (q *FrameQueue) Dequeue(ctx context.Context) (*Frame, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return f, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrQueueClosed
		}

		select {
		case <-q.signal:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Clear discards all buffered frames and runs the onClear hook as one
// atomic operation.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dropped += int64(len(q.frames))
	q.frames = q.frames[:0]
	if q.onClear != nil {
		q.onClear()
	}
}

// Close marks the queue closed and wakes any blocked Dequeue.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Len reports the current queue depth.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports how many frames were discarded by overwrites, depth
// bounds and clears.
func (q *FrameQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Policy returns the queue's drain policy.
func (q *FrameQueue) Policy() DrainPolicy {
	return q.policy
}
