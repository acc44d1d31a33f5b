// Package queue publishes work items to the external compute workers over
// Redis Streams. Publishing is fire-and-forget: consumers are at-least-once
// and report back through the webhook callbacks, never through the stream.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 5 * time.Second

// GenerationTask is the wire message consumed by the inference workers.
type GenerationTask struct {
	TaskID      string   `json:"task_id"`
	JobID       int64    `json:"job_id"`
	StyleID     int64    `json:"style_id"`
	RequesterID int64    `json:"requester_id"`
	ModelRef    string   `json:"model_ref"`
	PromptTags  []string `json:"prompt_tags"`
	AspectRatio string   `json:"aspect_ratio"`
}

// TrainingTask is the wire message consumed by the training workers.
type TrainingTask struct {
	TaskID   string `json:"task_id"`
	StyleID  int64  `json:"style_id"`
	ArtistID int64  `json:"artist_id"`
}

// Publisher appends tasks to per-worker-type Redis streams.
type Publisher struct {
	client           *redis.Client
	generationStream string
	trainingStream   string
	logger           *slog.Logger
}

// NewPublisher connects to Redis and verifies the connection up front so a
// misconfigured queue fails at startup, not at first submit.
func NewPublisher(url, generationStream, trainingStream string, logger *slog.Logger) (*Publisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("queue: connection failed: %w", err)
	}

	return &Publisher{
		client:           client,
		generationStream: generationStream,
		trainingStream:   trainingStream,
		logger:           logger,
	}, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishGeneration appends one generation task. TaskID is assigned here.
func (p *Publisher) PublishGeneration(ctx context.Context, task GenerationTask) error {
	task.TaskID = uuid.NewString()
	return p.publish(ctx, p.generationStream, "generation", task)
}

// PublishTraining appends one training task. TaskID is assigned here.
func (p *Publisher) PublishTraining(ctx context.Context, task TrainingTask) error {
	task.TaskID = uuid.NewString()
	return p.publish(ctx, p.trainingStream, "training", task)
}

func (p *Publisher) publish(ctx context.Context, stream, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal %s task: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"type":    kind,
			"payload": string(body),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: publish to %s failed: %w", stream, err)
	}

	p.logger.Debug("task published", "stream", stream, "entry_id", id, "type", kind)
	return nil
}
