package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atelier-ops/atelier/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the job queue's Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerRequest carries the arguments a manual trigger may need.
type TriggerRequest struct {
	QuoteID   int64
	ActorID   int64
	Retention time.Duration
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, req TriggerRequest) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	task, err := buildTask(name, req)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func buildTask(name string, req TriggerRequest) (*asynq.Task, error) {
	switch name {
	case jobs.TaskQuoteRecalculate:
		return jobs.NewQuoteRecalculateTask(jobs.QuoteRecalculatePayload{QuoteID: req.QuoteID, ActorID: req.ActorID})
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(req.Retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// InspectQueue reports depth for every queue the worker consumes.
func (c *JobsCLI) InspectQueue(ctx context.Context) ([]jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return jobs.Inspect(c.inspector)
}
