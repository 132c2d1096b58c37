package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atelier-ops/atelier/internal/jobs"
	"github.com/atelier-ops/atelier/internal/quotes"
	"github.com/atelier-ops/atelier/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// QuoteRepricer replays a quote's current lines under its present rates.
type QuoteRepricer interface {
	Reprice(ctx context.Context, p shared.Principal, quoteID int64) (quotes.Version, error)
}

// QuoteRecalculateJob handles TaskQuoteRecalculate.
type QuoteRecalculateJob struct {
	Service QuoteRepricer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewQuoteRecalculateJob constructs the job handler.
func NewQuoteRecalculateJob(service QuoteRepricer, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuoteRecalculateJob {
	return &QuoteRecalculateJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the recalculation. Missing quotes and quotes without a
// version are skipped; version conflicts are left to asynq's retry.
func (j *QuoteRecalculateJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("quote recalculate: dependencies not configured")
	}
	var payload QuoteRecalculatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.QuoteID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskQuoteRecalculate)
	actor := shared.Principal{UserID: payload.ActorID, Role: shared.RoleDesigner}
	v, err := j.Service.Reprice(ctx, actor, payload.QuoteID)
	if err != nil {
		switch quotes.KindOf(err) {
		case quotes.KindNotFound, quotes.KindValidation, quotes.KindInvalidLineItem:
			j.log().Warn("skip quote recalculation", slog.Int64("quote_id", payload.QuoteID), slog.Any("error", err))
			_ = tracker.End(nil)
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		j.log().Error("recalculate quote", slog.Int64("quote_id", payload.QuoteID), slog.Any("error", err))
		return tracker.End(err)
	}

	j.log().Info("quote recalculated",
		slog.Int64("quote_id", payload.QuoteID),
		slog.Int("version_number", v.VersionNumber),
		slog.String("total_amount", v.TotalAmount.StringFixed(2)))
	return tracker.End(nil)
}

func (j *QuoteRecalculateJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *QuoteRecalculateJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskQuoteRecalculate))
	}
	return slog.Default().With(slog.String("job", TaskQuoteRecalculate))
}
