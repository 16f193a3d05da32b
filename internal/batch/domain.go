package batch

import (
	"errors"
	"time"
)

// Type enumerates batch directions.
type Type string

const (
	// TypeInbound marks received goods.
	TypeInbound Type = "inbound"
	// TypeOutbound marks shipped goods.
	TypeOutbound Type = "outbound"
)

// Valid reports whether the type is a known direction.
func (t Type) Valid() bool {
	return t == TypeInbound || t == TypeOutbound
}

// State is the position of the active batch in the workflow.
type State string

const (
	StateEmpty    State = "empty"
	StateDeclared State = "declared"
	StateScanning State = "scanning"
	StateVerified State = "verified"
	StateReviewed State = "reviewed"
)

// Stage names a downstream stage reachable from a verified batch.
type Stage string

const (
	// StageReview hands the batch to transaction review.
	StageReview Stage = "review"
	// StageCompliance hands the batch to compliance review.
	StageCompliance Stage = "compliance"
	// StageBulk hands the batch to bulk operations.
	StageBulk Stage = "bulk"
)

// Valid reports whether the stage is known.
func (s Stage) Valid() bool {
	switch s {
	case StageReview, StageCompliance, StageBulk:
		return true
	}
	return false
}

// Record is the active batch and its declared expectation.
type Record struct {
	BatchNumber   string
	NumberOfItems int
	PartNumber    string
	Type          Type
	Description   string
	SourceInfoID  *int64
	Verified      bool
	CurrentCount  int
	DeclaredAt    time.Time
}

// Spec carries the operator input for declaring a batch.
type Spec struct {
	BatchNumber   string
	NumberOfItems int
	PartNumber    string
	Type          Type
	Description   string
	SourceInfoID  *int64
}

// Snapshot is a read-only view of the active batch.
type Snapshot struct {
	State      State
	Status     Status
	Record     Record
	Serials    []string
	LedgerSize int
}

var (
	// ErrInvalidBatchSpec rejects a declaration.
	ErrInvalidBatchSpec = errors.New("batch: invalid batch spec")
	// ErrDuplicateSerial rejects a serial already in the ledger.
	ErrDuplicateSerial = errors.New("batch: duplicate serial")
	// ErrOverCapacity rejects a scan beyond the declared count.
	ErrOverCapacity = errors.New("batch: declared item count already reached")
	// ErrInvalidCount rejects a manual count correction.
	ErrInvalidCount = errors.New("batch: invalid count")
	// ErrInvalidSerial rejects an empty serial.
	ErrInvalidSerial = errors.New("batch: serial required")
	// ErrStaleWorkflow rejects an operation not allowed in the current state.
	ErrStaleWorkflow = errors.New("batch: workflow state does not allow this operation")
	// ErrNoActiveBatch indicates nothing has been declared yet.
	ErrNoActiveBatch = errors.New("batch: no active batch")
	// ErrNotAuthorized blocks a protected transition.
	ErrNotAuthorized = errors.New("batch: not authorized")
	// ErrInternalConsistency signals that the capacity guard was bypassed.
	ErrInternalConsistency = errors.New("batch: internal consistency violated")
	// ErrUnknownStage rejects a transition target.
	ErrUnknownStage = errors.New("batch: unknown stage")
)
