package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func ledgerOf(n int) *Ledger {
	l := NewLedger()
	for i := 0; i < n; i++ {
		_ = l.Append(fmt.Sprintf("S%d", i))
	}
	return l
}

func TestReconcile(t *testing.T) {
	cases := []struct {
		name     string
		expected int
		count    int
		ledger   int
		want     Status
	}{
		{name: "empty batch", expected: 3, count: 0, ledger: 0, want: StatusIncomplete},
		{name: "partial", expected: 3, count: 2, ledger: 2, want: StatusIncomplete},
		{name: "complete", expected: 3, count: 3, ledger: 3, want: StatusComplete},
		{name: "zero items never completes", expected: 0, count: 0, ledger: 0, want: StatusIncomplete},
		{name: "count beyond declared", expected: 2, count: 3, ledger: 2, want: StatusOverflow},
		{name: "ledger beyond declared", expected: 2, count: 2, ledger: 3, want: StatusOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Record{NumberOfItems: tc.expected, CurrentCount: tc.count}
			l := ledgerOf(tc.ledger)
			require.Equal(t, tc.want, Reconcile(rec, l))
			require.Equal(t, tc.want, Reconcile(rec, l), "reconcile is idempotent")
			require.Equal(t, tc.ledger, l.Len())
		})
	}
}
