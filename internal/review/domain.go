package review

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SerialStatus tracks a serial through review.
type SerialStatus string

const (
	SerialNewScan    SerialStatus = "NewScan"
	SerialCompliance SerialStatus = "Compliance"
	SerialComplete   SerialStatus = "Complete"
)

// BatchInfo is a verified batch persisted for review.
type BatchInfo struct {
	ID                int64
	BatchNumber       string
	NumberOfItems     int
	PartNumber        string
	BatchType         string
	Description       string
	SourceInfoID      *int64
	LastScannedItem   string
	CurrentItemNumber int
	Stage             string
	HandoffID         uuid.UUID
	SubmittedBy       string
	DeclaredAt        time.Time
	CreatedAt         time.Time
}

// SerialRecord is one scanned item of a reviewed batch.
type SerialRecord struct {
	ID          int64
	BatchInfoID int64
	Serial      string
	ItemNo      int
	Status      SerialStatus
	Voided      bool
	VoidedAt    *time.Time
	VoidedBy    string
	CreatedAt   time.Time
}

// BatchDetail is a batch together with its live serials.
type BatchDetail struct {
	Batch        BatchInfo
	Serials      []SerialRecord
	TotalRecords int
}

// SerialFilter narrows a serial search across reviewed batches.
type SerialFilter struct {
	BatchNumber string
	// Serial matches case-insensitively anywhere in the serial.
	Serial    string
	Status    SerialStatus
	Voided    *bool
	From      *time.Time
	To        *time.Time
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// SerialHit is a search result with the number of the batch that owns it.
type SerialHit struct {
	SerialRecord
	BatchNumber string
}

// SerialSortColumns lists the accepted sort keys.
var SerialSortColumns = map[string]string{
	"serial":       "s.serial",
	"item_no":      "s.item_no",
	"status":       "s.status",
	"created_at":   "s.created_at",
	"batch_number": "b.batch_number",
}

var (
	// ErrInvalidFilter rejects an unknown sort key or malformed filter value.
	ErrInvalidFilter = errors.New("review: invalid search filter")
	// ErrNotFound indicates a missing batch or serial.
	ErrNotFound = errors.New("review: not found")
	// ErrDuplicateBatch rejects a second submission of the same batch number.
	ErrDuplicateBatch = errors.New("review: batch number already submitted")
	// ErrAlreadyVoided rejects voiding a voided serial.
	ErrAlreadyVoided = errors.New("review: serial already voided")
	// ErrIncompleteHandoff rejects a handoff whose ledger does not match its count.
	ErrIncompleteHandoff = errors.New("review: handoff is not verified")
)
