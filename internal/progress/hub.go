package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes hub buffering. Zero values fall back to the package defaults.
type Config struct {
	// BufferSize caps how many events may sit unread before Emit starts
	// shedding.
	BufferSize int
	// MaxBatchEvents flushes a batch once it grows to this size.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the oldest buffered event waits for a
	// flush.
	MaxBatchWait time.Duration
	// SinkTimeout limits every sink call made during a flush.
	SinkTimeout time.Duration
	// BaseContext is the parent of all sink contexts. Background when nil.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize  = 4096
	defaultBatchSize   = 1000
	defaultBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
	dropNoteEvery      = 5 * time.Second
)

// Hub fans crawl progress out to its sinks in batches. Emit never blocks the
// caller; a full queue sheds events instead.
type Hub struct {
	cfg    Config
	sinks  []Sink
	queue  chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped      atomic.Int64
	lastDropNote atomic.Int64
	closed       atomic.Bool
	closeOnce    sync.Once
	shutdownCtx  context.Context
}

// NewHub starts the batching goroutine over the given sinks. The hub accepts
// events immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultBatchSize
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		queue:  make(chan Event, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.run()
	return h
}

// Emit queues an event for delivery. Malformed events are discarded, and a
// full queue drops the event rather than stalling the crawl that produced it.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("ignoring malformed progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		if n := h.dropped.Add(1); h.shouldNoteDrop(time.Now()) {
			h.logger.Warn("progress queue full, shedding events",
				zap.Int64("dropped_total", n))
		}
	}
}

// Close drains the queue into the sinks and waits for the batching goroutine
// to finish. Later calls wait on the same shutdown.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.shutdownCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// run owns the pending batch. A batch leaves either when it reaches
// MaxBatchEvents or when the timer armed by its first event fires; even
// under a steady trickle no event waits longer than MaxBatchWait.
func (h *Hub) run() {
	defer close(h.done)

	var (
		pending []Event
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}

	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.flush(pending)
				pending = pending[:0]
				stopTimer()
			} else if timer == nil {
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				timerC = timer.C
			}
		case <-timerC:
			timer, timerC = nil, nil
			h.flush(pending)
			pending = pending[:0]
		case <-h.quit:
			stopTimer()
			h.drain(pending)
			return
		}
	}
}

// drain empties the queue, flushes what remains, and closes every sink.
func (h *Hub) drain(pending []Event) {
	for {
		select {
		case evt := <-h.queue:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.flush(pending)
				pending = pending[:0]
			}
		default:
			h.flush(pending)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of the batch to every sink. A failing sink is logged
// and does not keep the batch from the remaining sinks.
func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	out := append([]Event(nil), batch...)
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		h.deliver(s, out)
	}
}

func (h *Hub) deliver(s Sink, batch []Event) {
	ctx := h.cfg.BaseContext
	if h.cfg.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.SinkTimeout)
		defer cancel()
	}
	if err := s.Consume(ctx, batch); err != nil {
		h.logger.Warn("progress sink rejected a batch", zap.Error(err))
	}
}

func (h *Hub) closeSinks() {
	ctx := h.shutdownCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, s := range h.sinks {
		if s == nil {
			continue
		}
		if err := s.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// shouldNoteDrop admits one backpressure warning per dropNoteEvery window.
// Emit calls it on the hot path; it must not take a lock.
func (h *Hub) shouldNoteDrop(now time.Time) bool {
	last := h.lastDropNote.Load()
	if now.UnixNano()-last < dropNoteEvery.Nanoseconds() {
		return false
	}
	return h.lastDropNote.CompareAndSwap(last, now.UnixNano())
}
