package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/receiving/internal/jobs"
	"github.com/odyssey-erp/receiving/internal/review"
)

// ComplianceAdvancer moves a batch's fresh serials into compliance review.
type ComplianceAdvancer interface {
	AdvanceCompliance(ctx context.Context, batchID int64) (int64, error)
}

// ComplianceReviewJob handles TaskComplianceReview.
type ComplianceReviewJob struct {
	Advancer ComplianceAdvancer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewComplianceReviewJob constructs the job handler.
func NewComplianceReviewJob(advancer ComplianceAdvancer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComplianceReviewJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceReviewJob{Advancer: advancer, Logger: logger, Metrics: metrics}
}

// Handle executes the compliance pass for one batch.
func (j *ComplianceReviewJob) Handle(ctx context.Context, task *asynq.Task) error {
	tracker := j.Metrics.Track("compliance_review")
	var payload ComplianceReviewPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.BatchID <= 0 {
		j.Logger.Error("compliance review payload", slog.Any("error", err))
		return tracker.End(fmt.Errorf("%w: %w", ErrInvalidPayload, asynq.SkipRetry))
	}
	if j.Advancer == nil {
		return tracker.End(errors.New("jobs: compliance advancer not configured"))
	}
	moved, err := j.Advancer.AdvanceCompliance(ctx, payload.BatchID)
	if errors.Is(err, review.ErrNotFound) {
		j.Logger.Warn("compliance review for unknown batch", slog.Int64("batch_id", payload.BatchID))
		return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
	}
	if err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddAffected("compliance_review", moved)
	j.Logger.Info("compliance review queued serials",
		slog.Int64("batch_id", payload.BatchID),
		slog.String("batch_number", payload.BatchNumber),
		slog.Int64("serials", moved))
	return tracker.End(nil)
}
