package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/domain"
	"github.com/iago/resume-analyzer-back/internal/logger"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
	Logger      *logger.Logger
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams.
type StreamsQueue struct {
	client      redis.UniversalClient
	stream      string
	dlqStream   string
	group       string
	consumer    string
	maxAttempts int
	log         *logger.Logger
}

// NewStreamsQueue verifies the connection and creates the consumer group.
// The client is shared with other Redis users and is not closed here.
func NewStreamsQueue(ctx context.Context, client redis.UniversalClient, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, apperr.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "resume_analyses"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "resume_analyses_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "resume_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperr.Wrap(err, "ping redis")
	}

	queue := &StreamsQueue{
		client:      client,
		stream:      cfg.Stream,
		dlqStream:   cfg.DLQStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		maxAttempts: cfg.MaxAttempts,
		log:         logger.OrNop(cfg.Logger).With("component", "streams_queue", "stream", cfg.Stream),
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.DispatchMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: streamValues(message),
	}).Result()
	if err != nil {
		return apperr.Wrap(err, "enqueue to stream")
	}
	return nil
}

func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.DispatchMessage) error {
	if len(messages) == 0 {
		return nil
	}

	pipeline := q.client.Pipeline()
	for _, message := range messages {
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: streamValues(message),
		})
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return apperr.Wrap(err, "enqueue batch to stream")
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return apperr.Wrap(err, "xreadgroup")
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handleItem(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handleItem(ctx context.Context, item redis.XMessage, handler Handler) {
	message, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		q.deadLetter(ctx, domain.DispatchMessage{}, item, parseErr.Error())
		q.ack(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		q.ack(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		q.deadLetter(ctx, message, item, handleErr.Error())
		q.ack(ctx, item.ID)
		return
	}

	q.log.Warn("dispatch failed, requeueing", "job_id", message.JobID, "attempt", message.Attempt, "error", handleErr)
	if requeueErr := q.Enqueue(ctx, message); requeueErr != nil {
		q.deadLetter(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	q.ack(ctx, item.ID)
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return apperr.Wrap(err, "ensure stream group")
}

func (q *StreamsQueue) ack(ctx context.Context, streamID string) {
	if err := q.ackAndDelete(ctx, streamID); err != nil {
		q.log.Warn("stream ack failed", "stream_id", streamID, "error", err)
	}
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return apperr.Wrap(err, "xack")
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return apperr.Wrap(err, "xdel")
	}
	return nil
}

func (q *StreamsQueue) deadLetter(ctx context.Context, message domain.DispatchMessage, item redis.XMessage, reason string) {
	if err := q.sendToDLQ(ctx, message, item, reason); err != nil {
		q.log.Error("dead-letter write failed", "stream_id", item.ID, "job_id", message.JobID, "error", err)
		return
	}
	q.log.Error("dispatch moved to dead-letter stream", "stream_id", item.ID, "job_id", message.JobID, "reason", reason)
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.DispatchMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := streamValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return apperr.Wrap(err, "send to dlq")
	}
	return nil
}

func streamValues(message domain.DispatchMessage) map[string]any {
	return map[string]any{
		"job_id":        message.JobID,
		"fingerprint":   message.Fingerprint,
		"industry_code": string(message.IndustryCode),
		"attempt":       message.Attempt,
		"requested_at":  message.RequestedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseStreamMessage(item redis.XMessage) (domain.DispatchMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", apperr.Newf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.DispatchMessage{}, err
	}
	if strings.TrimSpace(jobID) == "" {
		return domain.DispatchMessage{}, apperr.New("empty job_id")
	}
	fingerprint, err := getString("fingerprint")
	if err != nil {
		return domain.DispatchMessage{}, err
	}
	industry, err := getString("industry_code")
	if err != nil {
		return domain.DispatchMessage{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.DispatchMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.DispatchMessage{}, apperr.Wrap(err, "invalid attempt")
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.DispatchMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.DispatchMessage{}, apperr.Wrap(err, "invalid requested_at")
	}

	return domain.DispatchMessage{
		JobID:        jobID,
		Fingerprint:  fingerprint,
		IndustryCode: domain.IndustryCode(industry),
		Attempt:      attempt,
		RequestedAt:  requestedAt,
	}, nil
}
