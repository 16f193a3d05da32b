package batch

// Status is the outcome of comparing a ledger with its batch.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusComplete   Status = "complete"
	// StatusOverflow is unreachable while the capacity guard holds.
	StatusOverflow Status = "overflow"
)

// Reconcile compares the record's progress with its declared count.
// It has no side effects.
func Reconcile(rec Record, ledger *Ledger) Status {
	count := rec.CurrentCount
	if count > rec.NumberOfItems || ledger.Len() > rec.NumberOfItems {
		return StatusOverflow
	}
	if count == rec.NumberOfItems && rec.NumberOfItems > 0 {
		return StatusComplete
	}
	return StatusIncomplete
}
