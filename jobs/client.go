package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client enqueues studio tasks.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq-backed Client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	if redisOpts.Addr == "" {
		return nil, errors.New("jobs client: redis address required")
	}
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueRecalculate schedules a reprice of the quote.
func (c *Client) EnqueueRecalculate(ctx context.Context, quoteID, actorID int64) error {
	if c == nil || c.client == nil {
		return errors.New("jobs client not configured")
	}
	task, err := NewQuoteRecalculateTask(QuoteRecalculatePayload{QuoteID: quoteID, ActorID: actorID})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue %s for quote %d: %w", TaskQuoteRecalculate, quoteID, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
