package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"taskgate.dev/internal/obs"
)

var (
	ErrQueueFull       = errors.New("audit: forwarder queue is full")
	ErrForwarderClosed = errors.New("audit: forwarder is closed")
)

type queued struct {
	ctx   context.Context
	entry Entry
}

// Forwarder hands entries to a Sink from a single background goroutine, so
// a slow or unreachable sink never holds up the caller of LogEvent. Entries
// are dropped, not queued without bound, once the buffer is full.
type Forwarder struct {
	sink  Sink
	queue chan queued
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewForwarder starts delivering to sink with room for buffer pending entries.
func NewForwarder(sink Sink, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 1
	}
	f := &Forwarder{
		sink:  sink,
		queue: make(chan queued, buffer),
		done:  make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *Forwarder) run() {
	defer close(f.done)
	for item := range f.queue {
		if err := f.sink.Publish(item.ctx, item.entry); err != nil {
			obs.Logger().Warn("audit sink delivery failed", zap.String("event", item.entry.Event), zap.Error(err))
		}
	}
}

// Publish enqueues e without blocking. The request context is detached from
// cancellation so delivery outlives the request.
func (f *Forwarder) Publish(ctx context.Context, e Entry) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrForwarderClosed
	}
	select {
	case f.queue <- queued{ctx: context.WithoutCancel(ctx), entry: e}:
		return nil
	default:
		f.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Close drains pending entries and closes the wrapped sink.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done
	return f.sink.Close()
}
