package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries quote reprices.
	QueueDefault = "default"
	// QueueMaintenance carries housekeeping such as key pruning.
	QueueMaintenance = "maintenance"
	// TaskQuoteRecalculate reprices a quote after its rates changed.
	TaskQuoteRecalculate = "quote:recalculate"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// QuoteRecalculatePayload identifies the quote to reprice and who asked.
type QuoteRecalculatePayload struct {
	QuoteID int64 `json:"quote_id"`
	ActorID int64 `json:"actor_id"`
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewQuoteRecalculateTask constructs a quote recalculation task.
func NewQuoteRecalculateTask(payload QuoteRecalculatePayload) (*asynq.Task, error) {
	if payload.QuoteID <= 0 {
		return nil, errors.New("quote recalculate: quote id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuoteRecalculate, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(fmt.Sprintf("quote-%d-recalc-%s", payload.QuoteID, uuid.NewString())),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24*time.Hour)), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24
	}
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueMaintenance), asynq.Timeout(5*time.Minute)), nil
}
