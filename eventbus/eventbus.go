// Package eventbus is a small publish/subscribe interface used to announce
// synchronization outcomes once they have been committed. Delivery is
// asynchronous and best effort: subscribers must not be relied on to keep
// permission state consistent.
package eventbus

import (
	"context"
)

// Handler processes a message. Errors are logged by the bus.
type Handler func(ctx context.Context, msg *Message) error

// Message is a single delivery of published data to one handler.
type Message struct {
	ID      string
	Topic   string
	Data    any
	Attempt int
}

// NewMessage returns a first-attempt message.
func NewMessage(id, topic string, data any) *Message {
	return &Message{ID: id, Topic: topic, Data: data, Attempt: 1}
}

// EventBus delivers published data to every subscriber of a topic.
type EventBus interface {
	// Subscribe registers a handler for a topic. Handlers may be called
	// concurrently.
	Subscribe(topic string, handler Handler)

	// Publish sends data to all subscribers of topic without waiting for them.
	Publish(topic string, data any)

	// Wait blocks until published messages have been handled or ctx is done.
	Wait(ctx context.Context) error
}

// Nop is an EventBus which drops everything.
type Nop struct{}

func (Nop) Subscribe(string, Handler) {}
func (Nop) Publish(string, any) {}
func (Nop) Wait(context.Context) error { return nil }
