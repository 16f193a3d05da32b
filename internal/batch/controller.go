package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Controller owns the active batch of one session and is the only writer of
// its record and ledger. It is not safe for concurrent use; callers funnel
// events through it one at a time.
type Controller struct {
	gate    Gate
	review  ReviewPort
	now     func() time.Time
	state   State
	record  Record
	ledger  *Ledger
	faulted bool
	// handoffID is minted on verification and reused by every transition
	// attempt so review can dedupe retries.
	handoffID uuid.UUID

	subs    map[int]Subscriber
	nextSub int
}

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController returns a controller with no active batch.
func NewController(gate Gate, review ReviewPort, opts ...ControllerOption) *Controller {
	c := &Controller{
		gate:   gate,
		review: review,
		now:    time.Now,
		state:  StateEmpty,
		ledger: NewLedger(),
		subs:   make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for every subsequent event and returns a function
// removing it.
func (c *Controller) Subscribe(fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() { delete(c.subs, id) }
}

// State returns the workflow state.
func (c *Controller) State() State {
	return c.state
}

// Declare replaces the active batch with a fresh one. It is legal from any
// state and never carries data over.
func (c *Controller) Declare(spec Spec) error {
	spec.BatchNumber = strings.TrimSpace(spec.BatchNumber)
	if spec.BatchNumber == "" {
		return fmt.Errorf("%w: batch number required", ErrInvalidBatchSpec)
	}
	if spec.NumberOfItems <= 0 {
		return fmt.Errorf("%w: number of items must be positive", ErrInvalidBatchSpec)
	}
	if spec.Type == "" {
		spec.Type = TypeInbound
	}
	if !spec.Type.Valid() {
		return fmt.Errorf("%w: unknown batch type %q", ErrInvalidBatchSpec, spec.Type)
	}
	c.record = Record{
		BatchNumber:   spec.BatchNumber,
		NumberOfItems: spec.NumberOfItems,
		PartNumber:    strings.TrimSpace(spec.PartNumber),
		Type:          spec.Type,
		Description:   spec.Description,
		SourceInfoID:  spec.SourceInfoID,
		DeclaredAt:    c.now().UTC(),
	}
	c.ledger = NewLedger()
	c.faulted = false
	c.handoffID = uuid.Nil
	c.state = StateDeclared
	c.emit(EventDeclared, "")
	return nil
}

// RecordScan appends serial to the ledger. Completing the declared count
// verifies the batch in the same call.
func (c *Controller) RecordScan(serial string) (Status, error) {
	if err := c.writable(); err != nil {
		return "", err
	}
	serial = NormalizeSerial(serial)
	if serial == "" {
		return "", ErrInvalidSerial
	}
	if c.ledger.Contains(serial) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSerial, serial)
	}
	if c.ledger.Len() >= c.record.NumberOfItems {
		return "", ErrOverCapacity
	}
	if err := c.ledger.Append(serial); err != nil {
		return "", err
	}
	c.record.CurrentCount++
	c.state = StateScanning

	status, err := c.reconcile()
	if err != nil {
		return status, err
	}
	if status == StatusComplete {
		c.markVerified()
	}
	c.emit(EventScanned, serial)
	if status == StatusComplete {
		c.emit(EventVerified, "")
	}
	return status, nil
}

// SetCurrentCount corrects the progress counter by rolling the ledger back to
// its first n serials.
func (c *Controller) SetCurrentCount(n int) error {
	if err := c.writable(); err != nil {
		return err
	}
	if n < 0 || n > c.record.NumberOfItems {
		return fmt.Errorf("%w: %d outside 0..%d", ErrInvalidCount, n, c.record.NumberOfItems)
	}
	if n > c.ledger.Len() {
		return fmt.Errorf("%w: only %d serials scanned", ErrInvalidCount, c.ledger.Len())
	}
	c.ledger.Truncate(n)
	c.record.CurrentCount = n
	if n == 0 {
		c.state = StateDeclared
	}
	status, err := c.reconcile()
	if err != nil {
		return err
	}
	if status == StatusComplete {
		c.markVerified()
	}
	c.emit(EventCountCorrected, "")
	if status == StatusComplete {
		c.emit(EventVerified, "")
	}
	return nil
}

// Verify re-runs reconciliation and verifies the batch when complete.
func (c *Controller) Verify() (Status, error) {
	switch c.state {
	case StateEmpty:
		return "", ErrNoActiveBatch
	case StateVerified, StateReviewed:
		return StatusComplete, nil
	}
	if c.faulted {
		return StatusOverflow, ErrInternalConsistency
	}
	status, err := c.reconcile()
	if err != nil {
		return status, err
	}
	if status == StatusComplete {
		c.markVerified()
		c.emit(EventVerified, "")
	}
	return status, nil
}

// RequestTransition moves a verified batch to a protected downstream stage.
// When the gate refuses, login is requested for location and the state is
// left untouched.
func (c *Controller) RequestTransition(ctx context.Context, stage Stage, location string) (Handoff, error) {
	if !stage.Valid() {
		return Handoff{}, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	if c.state == StateEmpty {
		return Handoff{}, ErrNoActiveBatch
	}
	if c.state != StateVerified {
		return Handoff{}, fmt.Errorf("%w: batch is %s", ErrStaleWorkflow, c.state)
	}
	if c.gate == nil || !c.gate.Authorize(ctx) {
		if c.gate != nil {
			c.gate.Login(ctx, location)
		}
		return Handoff{}, ErrNotAuthorized
	}
	handoff := c.handoff(ctx, stage)
	if c.review != nil {
		if err := c.review.Submit(ctx, handoff); err != nil {
			return Handoff{}, fmt.Errorf("batch: review handoff: %w", err)
		}
	}
	c.state = StateReviewed
	c.emit(EventReviewed, "")
	return handoff, nil
}

// Snapshot returns a copy of the active batch.
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		State:      c.state,
		Record:     c.record,
		Serials:    c.ledger.Serials(),
		LedgerSize: c.ledger.Len(),
	}
	if c.state != StateEmpty {
		snap.Status = Reconcile(c.record, c.ledger)
	}
	return snap
}

func (c *Controller) writable() error {
	switch c.state {
	case StateEmpty:
		return ErrNoActiveBatch
	case StateVerified, StateReviewed:
		return fmt.Errorf("%w: ledger frozen after verification", ErrStaleWorkflow)
	}
	if c.faulted {
		return fmt.Errorf("%w: re-declare the batch", ErrInternalConsistency)
	}
	return nil
}

// reconcile checks the record against the ledger and faults the batch when
// an impossible state is observed.
func (c *Controller) reconcile() (Status, error) {
	if c.record.CurrentCount != c.ledger.Len() {
		c.faulted = true
		return StatusOverflow, fmt.Errorf("%w: count %d, ledger %d", ErrInternalConsistency, c.record.CurrentCount, c.ledger.Len())
	}
	status := Reconcile(c.record, c.ledger)
	if status == StatusOverflow {
		c.faulted = true
		return status, fmt.Errorf("%w: %d of %d items", ErrInternalConsistency, c.record.CurrentCount, c.record.NumberOfItems)
	}
	return status, nil
}

// markVerified flips the record and state together; callers emit after it
// so no event observes a complete count on an unverified batch.
func (c *Controller) markVerified() {
	c.record.Verified = true
	c.state = StateVerified
	c.handoffID = uuid.New()
}

func (c *Controller) handoff(ctx context.Context, stage Stage) Handoff {
	return Handoff{
		ID:            c.handoffID,
		Stage:         stage,
		BatchNumber:   c.record.BatchNumber,
		PartNumber:    c.record.PartNumber,
		Type:          c.record.Type,
		NumberOfItems: c.record.NumberOfItems,
		Description:   c.record.Description,
		SourceInfoID:  c.record.SourceInfoID,
		Verified:      c.record.Verified,
		CurrentCount:  c.record.CurrentCount,
		Serials:       c.ledger.Serials(),
		Principal:     c.gate.Principal(ctx),
		DeclaredAt:    c.record.DeclaredAt,
		HandedOffAt:   c.now().UTC(),
	}
}

func (c *Controller) emit(kind EventKind, serial string) {
	if len(c.subs) == 0 {
		return
	}
	evt := Event{
		Kind:     kind,
		State:    c.state,
		Status:   Reconcile(c.record, c.ledger),
		Batch:    c.record.BatchNumber,
		Count:    c.record.CurrentCount,
		Expected: c.record.NumberOfItems,
		Serial:   serial,
		At:       c.now().UTC(),
	}
	for _, fn := range c.subs {
		fn(evt)
	}
}
