package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind names an accepted mutation.
type EventKind string

const (
	EventDeclared       EventKind = "declared"
	EventScanned        EventKind = "scanned"
	EventCountCorrected EventKind = "count_corrected"
	EventVerified       EventKind = "verified"
	EventReviewed       EventKind = "reviewed"
)

// Event is emitted after every accepted mutation of the active batch.
type Event struct {
	Kind     EventKind `json:"kind"`
	State    State     `json:"state"`
	Status   Status    `json:"status"`
	Batch    string    `json:"batch_number"`
	Count    int       `json:"current_count"`
	Expected int       `json:"number_of_items"`
	Serial   string    `json:"serial,omitempty"`
	At       time.Time `json:"at"`
}

// Subscriber receives workflow events synchronously.
type Subscriber func(Event)

// Handoff is the payload given to the review stage when a verified batch
// leaves the workflow.
type Handoff struct {
	ID            uuid.UUID `json:"id"`
	Stage         Stage     `json:"stage"`
	BatchNumber   string    `json:"batch_number"`
	PartNumber    string    `json:"part_number"`
	Type          Type      `json:"batch_type"`
	NumberOfItems int       `json:"number_of_items"`
	Description   string    `json:"description"`
	SourceInfoID  *int64    `json:"source_info_id,omitempty"`
	Verified      bool      `json:"verified"`
	CurrentCount  int       `json:"current_count"`
	Serials       []string  `json:"serials"`
	Principal     string    `json:"principal"`
	DeclaredAt    time.Time `json:"declared_at"`
	HandedOffAt   time.Time `json:"handed_off_at"`
}

// ReviewPort accepts verified batches for downstream processing.
type ReviewPort interface {
	Submit(ctx context.Context, handoff Handoff) error
}

// Gate guards protected transitions.
type Gate interface {
	Authorize(ctx context.Context) bool
	Login(ctx context.Context, target string)
	Principal(ctx context.Context) string
}
