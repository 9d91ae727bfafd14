// Package membus provides an in-memory implementation of eventbus.EventBus.
package membus

import (
	"context"
	"sync"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/eventbus"
	"github.com/dpup/permissible/logging"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// Option configures the bus.
type Option func(*Bus)

// WithWorkerPool sets the number of worker goroutines delivering messages.
// Default is 16 workers. Set to 0 to start a goroutine per delivery.
func WithWorkerPool(size int) Option {
	return func(b *Bus) {
		b.workers = size
	}
}

// WithQueueSize sets the buffer of pending deliveries for the worker pool.
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		b.jobs = make(chan job, size)
	}
}

// New returns a new in-memory bus. Handlers run with the logger from ctx.
func New(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		subscriberCtx: logging.With(ctx, logging.FromContext(ctx).Named("eventbus")),
		workers:       16,
		jobs:          make(chan job, 256),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type job struct {
	ctx     context.Context
	handler eventbus.Handler
	msg     *eventbus.Message
}

// Bus is an in-memory implementation of EventBus.
type Bus struct {
	subscribers   map[string][]eventbus.Handler
	subscriberCtx context.Context

	mu sync.Mutex
	wg sync.WaitGroup

	jobs    chan job
	workers int
	started bool
	closed  bool
}

var _ eventbus.EventBus = (*Bus)(nil)

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[string][]eventbus.Handler)
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish sends a message to every subscriber of topic. Messages published
// after Shutdown are dropped.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		logging.Warnw(b.subscriberCtx, "eventbus: publish after shutdown", "topic", topic)
		return
	}
	if !b.started {
		b.startWorkers()
		b.started = true
	}

	handlers := b.subscribers[topic]
	if len(handlers) == 0 {
		return
	}

	ctx := logging.With(b.subscriberCtx, logging.FromContext(b.subscriberCtx).Named(topic))
	for _, handler := range handlers {
		msg := eventbus.NewMessage(uuid.NewString(), topic, data)
		b.wg.Add(1)
		if b.workers == 0 {
			go b.execute(ctx, handler, msg)
		} else {
			b.jobs <- job{ctx: ctx, handler: handler, msg: msg}
		}
	}
}

func (b *Bus) startWorkers() {
	for range b.workers {
		go b.worker()
	}
}

func (b *Bus) worker() {
	for j := range b.jobs {
		b.execute(j.ctx, j.handler, j.msg)
	}
}

// Shutdown stops accepting messages and waits for pending ones to finish.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		if b.started && b.workers > 0 {
			close(b.jobs)
		}
	}
	b.mu.Unlock()
	return b.Wait(ctx)
}

// Wait blocks until all pending messages are processed.
func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.Codef(codes.DeadlineExceeded, "eventbus: timeout waiting for handlers to finish: %v", ctx.Err())
	}
}

func (b *Bus) execute(ctx context.Context, handler eventbus.Handler, msg *eventbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Recovered(r, 2)
			logging.Errorw(ctx, "eventbus: recovered from panic",
				"error", err, "message_id", msg.ID, "error.stack_trace", err.MinimalStack(0, 5))
		}
		b.wg.Done()
	}()
	if err := handler(ctx, msg); err != nil {
		logging.Errorw(ctx, "eventbus: handler error", "error", err, "message_id", msg.ID, "topic", msg.Topic)
	}
}
