package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/receiving/internal/platform/db"
	"github.com/odyssey-erp/receiving/internal/shared"
)

// TxRepository exposes the writes performed inside one submission.
type TxRepository interface {
	InsertBatch(ctx context.Context, info BatchInfo) (int64, error)
	InsertSerials(ctx context.Context, batchID int64, serials []SerialRecord) error
}

// Repository persists reviewed batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const batchColumns = `id, batch_number, number_of_items, part_number, batch_type, description, source_info_id,
	last_scanned_item, current_item_number, stage, handoff_id, submitted_by, declared_at, created_at`

// GetBatchByNumber loads a batch by its external number.
func (r *Repository) GetBatchByNumber(ctx context.Context, number string) (BatchInfo, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_info WHERE batch_number = $1`, number))
}

// GetBatch loads a batch by primary key.
func (r *Repository) GetBatch(ctx context.Context, id int64) (BatchInfo, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batch_info WHERE id = $1`, id))
}

func scanBatch(row pgx.Row) (BatchInfo, error) {
	var b BatchInfo
	err := row.Scan(&b.ID, &b.BatchNumber, &b.NumberOfItems, &b.PartNumber, &b.BatchType, &b.Description, &b.SourceInfoID,
		&b.LastScannedItem, &b.CurrentItemNumber, &b.Stage, &b.HandoffID, &b.SubmittedBy, &b.DeclaredAt, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return BatchInfo{}, ErrNotFound
	}
	return b, err
}

// ListSerials returns the serials of a batch in item order.
func (r *Repository) ListSerials(ctx context.Context, batchID int64, includeVoided bool) ([]SerialRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, batch_info_id, serial, item_no, status, voided, voided_at, COALESCE(voided_by, ''), created_at
		FROM serial_number_records
		WHERE batch_info_id = $1 AND ($2 OR NOT voided)
		ORDER BY item_no`, batchID, includeVoided)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SerialRecord, error) {
		var s SerialRecord
		err := row.Scan(&s.ID, &s.BatchInfoID, &s.Serial, &s.ItemNo, &s.Status, &s.Voided, &s.VoidedAt, &s.VoidedBy, &s.CreatedAt)
		return s, err
	})
}

// SearchSerials pages through serials of all reviewed batches. The sort key
// must already be one of SerialSortColumns.
func (r *Repository) SearchSerials(ctx context.Context, f SerialFilter) ([]SerialHit, int, error) {
	conditions := []string{}
	args := []any{}
	argPos := 1

	if f.BatchNumber != "" {
		conditions = append(conditions, fmt.Sprintf("b.batch_number = $%d", argPos))
		args = append(args, f.BatchNumber)
		argPos++
	}
	if f.Serial != "" {
		conditions = append(conditions, fmt.Sprintf("s.serial ILIKE $%d", argPos))
		args = append(args, "%"+f.Serial+"%")
		argPos++
	}
	if f.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", argPos))
		args = append(args, string(f.Status))
		argPos++
	}
	if f.Voided != nil {
		conditions = append(conditions, fmt.Sprintf("s.voided = $%d", argPos))
		args = append(args, *f.Voided)
		argPos++
	}
	if f.From != nil {
		conditions = append(conditions, fmt.Sprintf("s.created_at >= $%d", argPos))
		args = append(args, *f.From)
		argPos++
	}
	if f.To != nil {
		conditions = append(conditions, fmt.Sprintf("s.created_at < $%d", argPos))
		args = append(args, *f.To)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM serial_number_records s
		JOIN batch_info b ON b.id = s.batch_info_id %s`, whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	column, ok := SerialSortColumns[f.SortBy]
	if !ok {
		column = SerialSortColumns["created_at"]
	}
	dir := "ASC"
	if strings.EqualFold(f.SortOrder, "desc") {
		dir = "DESC"
	}
	query := fmt.Sprintf(`SELECT s.id, s.batch_info_id, s.serial, s.item_no, s.status, s.voided, s.voided_at,
		COALESCE(s.voided_by, ''), s.created_at, b.batch_number
		FROM serial_number_records s
		JOIN batch_info b ON b.id = s.batch_info_id
		%s
		ORDER BY %s %s, s.id
		LIMIT $%d OFFSET $%d`, whereClause, column, dir, argPos, argPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SerialHit, error) {
		var h SerialHit
		err := row.Scan(&h.ID, &h.BatchInfoID, &h.Serial, &h.ItemNo, &h.Status, &h.Voided, &h.VoidedAt, &h.VoidedBy,
			&h.CreatedAt, &h.BatchNumber)
		return h, err
	})
	if err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}

// GetSerial loads one serial record.
func (r *Repository) GetSerial(ctx context.Context, id int64) (SerialRecord, error) {
	var s SerialRecord
	err := r.pool.QueryRow(ctx, `SELECT id, batch_info_id, serial, item_no, status, voided, voided_at, COALESCE(voided_by, ''), created_at
		FROM serial_number_records WHERE id = $1`, id).
		Scan(&s.ID, &s.BatchInfoID, &s.Serial, &s.ItemNo, &s.Status, &s.Voided, &s.VoidedAt, &s.VoidedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SerialRecord{}, ErrNotFound
	}
	return s, err
}

// VoidSerial flags a serial as voided. It reports false when the serial was
// already voided.
func (r *Repository) VoidSerial(ctx context.Context, id int64, actor string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE serial_number_records SET voided = TRUE, voided_at = $2, voided_by = $3
		WHERE id = $1 AND NOT voided`, id, at, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateSerialStatus moves live serials of a batch from one status to another.
func (r *Repository) UpdateSerialStatus(ctx context.Context, batchID int64, from, to SerialStatus) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE serial_number_records SET status = $3
		WHERE batch_info_id = $1 AND status = $2 AND NOT voided`, batchID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) InsertBatch(ctx context.Context, b BatchInfo) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batch_info (batch_number, number_of_items, part_number, batch_type, description,
		source_info_id, last_scanned_item, current_item_number, stage, handoff_id, submitted_by, declared_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		b.BatchNumber, b.NumberOfItems, b.PartNumber, b.BatchType, b.Description, b.SourceInfoID,
		b.LastScannedItem, b.CurrentItemNumber, b.Stage, b.HandoffID, b.SubmittedBy, b.DeclaredAt).Scan(&id)
	if shared.IsUniqueViolation(err) {
		return 0, ErrDuplicateBatch
	}
	return id, err
}

func (r *txRepo) InsertSerials(ctx context.Context, batchID int64, serials []SerialRecord) error {
	rows := make([][]any, 0, len(serials))
	for _, s := range serials {
		rows = append(rows, []any{batchID, s.Serial, s.ItemNo, string(s.Status)})
	}
	_, err := r.tx.CopyFrom(ctx,
		pgx.Identifier{"serial_number_records"},
		[]string{"batch_info_id", "serial", "item_no", "status"},
		pgx.CopyFromRows(rows))
	return err
}
