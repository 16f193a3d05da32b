package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskComplianceReview moves a submitted batch into compliance review.
	TaskComplianceReview = "receiving:compliance_review"
	// TaskIdempotencyCleanup expires old idempotency keys.
	TaskIdempotencyCleanup = "receiving:idempotency_cleanup"
)

// ErrInvalidPayload marks a task that can never succeed.
var ErrInvalidPayload = errors.New("jobs: invalid payload")

// ComplianceReviewPayload identifies the batch to advance.
type ComplianceReviewPayload struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
}

// IdempotencyCleanupPayload configures the retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewComplianceReviewTask constructs the per-batch compliance task. The task
// ID is derived from the batch so a batch is queued at most once.
func NewComplianceReviewTask(queue string, batchID int64, number string) (*asynq.Task, error) {
	if batchID <= 0 {
		return nil, ErrInvalidPayload
	}
	body, err := json.Marshal(ComplianceReviewPayload{BatchID: batchID, BatchNumber: number})
	if err != nil {
		return nil, err
	}
	if queue == "" {
		queue = QueueDefault
	}
	return asynq.NewTask(TaskComplianceReview, body,
		asynq.Queue(queue),
		asynq.TaskID(complianceTaskID(batchID)),
		asynq.MaxRetry(5),
	), nil
}

// NewIdempotencyCleanupTask constructs the retention sweep.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

func complianceTaskID(batchID int64) string {
	return "compliance:" + formatInt(batchID)
}
