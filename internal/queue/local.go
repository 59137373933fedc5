package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/logger"
)

// DeadLetter is a dispatch that exhausted its delivery attempts.
type DeadLetter struct {
	Message domain.DispatchMessage
	Reason  string
	MovedAt time.Time
}

// LocalQueue is the in-process queue used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.DispatchMessage
	maxAttempts int
	retryDelay  time.Duration
	log         *logger.Logger

	dlqMu sync.Mutex
	dlq   []DeadLetter
}

type LocalConfig struct {
	BufferSize  int
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number before a requeue.
	RetryDelay time.Duration
	Logger     *logger.Logger
}

func NewLocalQueue(cfg LocalConfig) *LocalQueue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &LocalQueue{
		ch:          make(chan domain.DispatchMessage, cfg.BufferSize),
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		log:         logger.OrNop(cfg.Logger).With("component", "local_queue"),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.DispatchMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- message:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.DispatchMessage) error {
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.moveToDLQ(message, err)
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryDelay
			q.log.Warn("dispatch failed, requeueing", "job_id", message.JobID, "attempt", message.Attempt, "delay_ms", delay.Milliseconds(), "error", err)
			go q.requeueAfter(ctx, message, delay)
		}
	}
}

func (q *LocalQueue) requeueAfter(ctx context.Context, message domain.DispatchMessage, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	select {
	case <-ctx.Done():
	case q.ch <- message:
	}
}

func (q *LocalQueue) moveToDLQ(message domain.DispatchMessage, err error) {
	q.dlqMu.Lock()
	q.dlq = append(q.dlq, DeadLetter{Message: message, Reason: err.Error(), MovedAt: time.Now().UTC()})
	q.dlqMu.Unlock()
	q.log.Error("dispatch moved to dead-letter queue", "job_id", message.JobID, "attempt", message.Attempt, "error", err)
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}

// Depth reports dispatches waiting in the buffer.
func (q *LocalQueue) Depth() int {
	return len(q.ch)
}
