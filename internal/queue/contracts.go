// Package queue carries job dispatches from the submission path to the
// workers, either in-process or through Redis Streams.
package queue

import (
	"context"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

// Handler processes one dispatch. A returned error requeues the message
// until the backend's attempt limit moves it to the dead-letter queue.
type Handler func(context.Context, domain.DispatchMessage) error

// Producer sends dispatches to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.DispatchMessage) error
}

// BatchProducer is implemented by backends that can enqueue many dispatches
// in one round trip. Startup recovery uses it.
type BatchProducer interface {
	Producer
	EnqueueBatch(ctx context.Context, messages []domain.DispatchMessage) error
}

// Consumer receives dispatches and executes handlers until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// EnqueueAll uses a batch round trip when the producer supports it.
func EnqueueAll(ctx context.Context, producer Producer, messages []domain.DispatchMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if batcher, ok := producer.(BatchProducer); ok {
		return batcher.EnqueueBatch(ctx, messages)
	}
	for _, message := range messages {
		if err := producer.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}
