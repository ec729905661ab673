// Package queue implements the Job Queue (§6): a Redis Streams backed
// envelope queue read through consumer groups. A delivered message stays
// in the group's pending entries list until it is acknowledged; Read
// fetches only new entries (">"), and this package does not reclaim or
// redeliver pending messages.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// JobType is the envelope's routing discriminator.
type JobType string

const (
	JobHydration JobType = "hydration"
	JobLearning  JobType = "learning"
	JobEvaluation JobType = "evaluation"
	JobToolRun   JobType = "tool_run"
)

// Headers carry cross-cutting identifiers propagated from the request
// that enqueued the job into whatever consumes it.
type Headers struct {
	CorrelationID string  `json:"correlation_id"`
	WorkspaceID   *string `json:"workspace_id,omitempty"`
	UserID        *int    `json:"user_id,omitempty"`
}

// Envelope is the queue's sole wire format.
type Envelope struct {
	JobType JobType         `json:"job_type"`
	Payload json.RawMessage `json:"payload"`
	Headers Headers         `json:"headers"`
}

// Message is a delivered envelope plus the stream id needed to Ack it.
type Message struct {
	ID       string
	Envelope Envelope
}

// Queue publishes and consumes job envelopes on one Redis stream per
// job type.
type Queue struct {
	client *redis.Client
	log    *zap.Logger
}

func New(client *redis.Client, log *zap.Logger) *Queue {
	return &Queue{client: client, log: log}
}

func streamKey(jobType JobType) string {
	return "queue:" + string(jobType)
}

// Enqueue publishes one envelope to its job type's stream.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any, headers Headers) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return govplaneerrors.ParseError("enqueue job payload", "json", err)
	}
	env := Envelope{JobType: jobType, Payload: raw, Headers: headers}
	body, err := json.Marshal(env)
	if err != nil {
		return govplaneerrors.ParseError("enqueue job envelope", "json", err)
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(jobType),
		Values: map[string]any{"envelope": body},
	}).Err()
	if err != nil {
		return govplaneerrors.FailedToWithDetails("enqueue job", "queue", string(jobType), err)
	}
	return nil
}

// EnsureGroup creates the consumer group for jobType if it doesn't
// already exist, creating the stream itself too (MKSTREAM).
func (q *Queue) EnsureGroup(ctx context.Context, jobType JobType, group string) error {
	err := q.client.XGroupCreateMkStream(ctx, streamKey(jobType), group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return govplaneerrors.FailedToWithDetails("create consumer group", "queue", string(jobType), err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Read blocks up to block for new messages on jobType's stream,
// delivered to consumer within group.
func (q *Queue) Read(ctx context.Context, jobType JobType, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{streamKey(jobType), ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, govplaneerrors.FailedToWithDetails("read jobs", "queue", string(jobType), err)
	}

	var messages []Message
	for _, stream := range res {
		for _, entry := range stream.Messages {
			raw, _ := entry.Values["envelope"].(string)
			var env Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				q.log.Warn("dropping malformed queue envelope", zap.String("id", entry.ID), zap.Error(err))
				continue
			}
			messages = append(messages, Message{ID: entry.ID, Envelope: env})
		}
	}
	return messages, nil
}

// Ack acknowledges successful processing of a message, removing it
// from the group's pending entries list.
func (q *Queue) Ack(ctx context.Context, jobType JobType, group, id string) error {
	if err := q.client.XAck(ctx, streamKey(jobType), group, id).Err(); err != nil {
		return govplaneerrors.FailedToWithDetails("ack job", "queue", string(jobType), err)
	}
	return nil
}

// Pending reports how many messages are delivered but unacknowledged
// for group — a backlog signal for the queue-unavailable 503 path.
func (q *Queue) Pending(ctx context.Context, jobType JobType, group string) (int64, error) {
	summary, err := q.client.XPending(ctx, streamKey(jobType), group).Result()
	if err != nil {
		return 0, govplaneerrors.FailedToWithDetails("get pending job count", "queue", string(jobType), err)
	}
	return summary.Count, nil
}
