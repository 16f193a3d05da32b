package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/receiving/internal/batch"
	"github.com/odyssey-erp/receiving/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (BatchInfo, error)
	GetBatchByNumber(ctx context.Context, number string) (BatchInfo, error)
	ListSerials(ctx context.Context, batchID int64, includeVoided bool) ([]SerialRecord, error)
	GetSerial(ctx context.Context, id int64) (SerialRecord, error)
	SearchSerials(ctx context.Context, filter SerialFilter) ([]SerialHit, int, error)
	VoidSerial(ctx context.Context, id int64, actor string, at time.Time) (bool, error)
	UpdateSerialStatus(ctx context.Context, batchID int64, from, to SerialStatus) (int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims handoff IDs so resubmissions are no-ops.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ComplianceQueue schedules the asynchronous compliance pass.
type ComplianceQueue interface {
	EnqueueComplianceReview(ctx context.Context, batchID int64, batchNumber string) error
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Logger *slog.Logger
	Queue  ComplianceQueue
	Clock  func() time.Time
}

// Service persists handed-off batches and drives them through review.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	queue       ComplianceQueue
	logger      *slog.Logger
	now         func() time.Time
	lookups     singleflight.Group
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, queue: cfg.Queue, logger: logger, now: now}
}

// SetQueue attaches the compliance queue after construction.
func (s *Service) SetQueue(queue ComplianceQueue) {
	s.queue = queue
}

var _ batch.ReviewPort = (*Service)(nil)

// Submit stores a verified batch and its serials. Resubmitting the same
// handoff is a no-op.
func (s *Service) Submit(ctx context.Context, handoff batch.Handoff) error {
	if err := validateHandoff(handoff); err != nil {
		return err
	}
	key := "review:" + handoff.ID.String()
	insertedKey := false
	if s.idempotency != nil {
		err := s.idempotency.CheckAndInsert(ctx, key, "review")
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			s.logger.Info("handoff already submitted", slog.String("handoff_id", handoff.ID.String()))
			return nil
		}
		if err != nil {
			return err
		}
		insertedKey = true
	}

	info := BatchInfo{
		BatchNumber:       handoff.BatchNumber,
		NumberOfItems:     handoff.NumberOfItems,
		PartNumber:        handoff.PartNumber,
		BatchType:         string(handoff.Type),
		Description:       handoff.Description,
		SourceInfoID:      handoff.SourceInfoID,
		CurrentItemNumber: handoff.CurrentCount,
		Stage:             string(handoff.Stage),
		HandoffID:         handoff.ID,
		SubmittedBy:       handoff.Principal,
		DeclaredAt:        handoff.DeclaredAt,
	}
	if n := len(handoff.Serials); n > 0 {
		info.LastScannedItem = handoff.Serials[n-1]
	}
	serials := make([]SerialRecord, 0, len(handoff.Serials))
	for i, serial := range handoff.Serials {
		serials = append(serials, SerialRecord{Serial: serial, ItemNo: i + 1, Status: SerialNewScan})
	}

	var batchID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, info)
		if err != nil {
			return err
		}
		batchID = id
		return tx.InsertSerials(ctx, id, serials)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return fmt.Errorf("review: submit %s: %w", handoff.BatchNumber, err)
	}

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    handoff.Principal,
			Action:   "review:submit",
			Entity:   "batch_info",
			EntityID: strconv.FormatInt(batchID, 10),
			Meta: map[string]any{
				"batch_number": handoff.BatchNumber,
				"stage":        string(handoff.Stage),
				"items":        handoff.NumberOfItems,
				"handoff_id":   handoff.ID.String(),
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("audit review submit", slog.Any("error", err))
		}
	}
	if s.queue != nil {
		if err := s.queue.EnqueueComplianceReview(ctx, batchID, handoff.BatchNumber); err != nil {
			s.logger.Warn("enqueue compliance review",
				slog.Int64("batch_id", batchID),
				slog.Any("error", err))
		}
	}
	s.logger.Info("batch submitted for review",
		slog.String("batch_number", handoff.BatchNumber),
		slog.Int64("batch_id", batchID),
		slog.Int("items", len(serials)))
	return nil
}

func validateHandoff(h batch.Handoff) error {
	if h.BatchNumber == "" || !h.Verified {
		return ErrIncompleteHandoff
	}
	if h.NumberOfItems <= 0 || h.CurrentCount != h.NumberOfItems || len(h.Serials) != h.CurrentCount {
		return ErrIncompleteHandoff
	}
	return nil
}

// Lookup loads a batch with its live serials. Concurrent lookups of the same
// number share one query, which runs detached from any single caller's
// cancellation; a caller that gives up returns early without failing the rest.
func (s *Service) Lookup(ctx context.Context, number string) (BatchDetail, error) {
	if number == "" {
		return BatchDetail{}, ErrNotFound
	}
	detached := context.WithoutCancel(ctx)
	ch := s.lookups.DoChan(number, func() (any, error) {
		info, err := s.repo.GetBatchByNumber(detached, number)
		if err != nil {
			return BatchDetail{}, err
		}
		serials, err := s.repo.ListSerials(detached, info.ID, false)
		if err != nil {
			return BatchDetail{}, err
		}
		return BatchDetail{Batch: info, Serials: serials, TotalRecords: len(serials)}, nil
	})
	select {
	case <-ctx.Done():
		return BatchDetail{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return BatchDetail{}, res.Err
		}
		return res.Val.(BatchDetail), nil
	}
}

// SearchSerials finds serials across reviewed batches and pages the result.
func (s *Service) SearchSerials(ctx context.Context, filter SerialFilter, page, perPage int) ([]SerialHit, shared.Pagination, error) {
	if filter.SortBy != "" {
		if _, ok := SerialSortColumns[filter.SortBy]; !ok {
			return nil, shared.Pagination{}, fmt.Errorf("%w: sort_by %q", ErrInvalidFilter, filter.SortBy)
		}
	}
	switch strings.ToLower(filter.SortOrder) {
	case "", "asc", "desc":
	default:
		return nil, shared.Pagination{}, fmt.Errorf("%w: sort_order %q", ErrInvalidFilter, filter.SortOrder)
	}
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return nil, shared.Pagination{}, fmt.Errorf("%w: date range is inverted", ErrInvalidFilter)
	}
	pager := shared.NewPagination(page, perPage, 0)
	filter.Limit = pager.PerPage
	filter.Offset = (pager.Page - 1) * pager.PerPage
	hits, total, err := s.repo.SearchSerials(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return hits, shared.NewPagination(pager.Page, pager.PerPage, total), nil
}

// VoidSerial soft-deletes one serial of a reviewed batch.
func (s *Service) VoidSerial(ctx context.Context, id int64, actor string) (SerialRecord, error) {
	rec, err := s.repo.GetSerial(ctx, id)
	if err != nil {
		return SerialRecord{}, err
	}
	if rec.Voided {
		return SerialRecord{}, ErrAlreadyVoided
	}
	at := s.now()
	ok, err := s.repo.VoidSerial(ctx, id, actor, at)
	if err != nil {
		return SerialRecord{}, err
	}
	if !ok {
		return SerialRecord{}, ErrAlreadyVoided
	}
	rec.Voided = true
	rec.VoidedAt = &at
	rec.VoidedBy = actor
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "review:void_serial",
			Entity:   "serial_number_records",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"serial": rec.Serial, "batch_id": rec.BatchInfoID},
			At:       at,
		})
	}
	return rec, nil
}

// AdvanceCompliance moves freshly scanned serials into compliance review.
func (s *Service) AdvanceCompliance(ctx context.Context, batchID int64) (int64, error) {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return 0, err
	}
	moved, err := s.repo.UpdateSerialStatus(ctx, batchID, SerialNewScan, SerialCompliance)
	if err != nil {
		return 0, fmt.Errorf("review: advance batch %d: %w", batchID, err)
	}
	s.logger.Info("compliance review started", slog.Int64("batch_id", batchID), slog.Int64("serials", moved))
	return moved, nil
}

// Complete closes compliance review for a batch.
func (s *Service) Complete(ctx context.Context, batchID int64, actor string) (int64, error) {
	info, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	moved, err := s.repo.UpdateSerialStatus(ctx, batchID, SerialCompliance, SerialComplete)
	if err != nil {
		return 0, fmt.Errorf("review: complete batch %d: %w", batchID, err)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "review:complete",
			Entity:   "batch_info",
			EntityID: strconv.FormatInt(batchID, 10),
			Meta:     map[string]any{"batch_number": info.BatchNumber, "serials": moved},
			At:       s.now(),
		})
	}
	return moved, nil
}
