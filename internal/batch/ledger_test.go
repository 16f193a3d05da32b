package batch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSerial(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "abc123", want: "abc123"},
		{in: "AB12", want: "AB12"},
		{in: "  sn-42\t", want: "sn-42"},
		{in: "\uff21\uff22\uff23\uff11\uff12\uff13", want: "ABC123"},
		{in: "\u3000x1\u3000", want: "x1"},
		{in: "\ufb01-01", want: "fi-01"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeSerial(tc.in), "input %q", tc.in)
	}
}

func TestLedgerTruncate(t *testing.T) {
	l := NewLedger()
	for _, s := range []string{"A", "B", "C"} {
		require.NoError(t, l.Append(s))
	}
	require.ErrorIs(t, l.Append("B"), ErrDuplicateSerial)
	require.Equal(t, "C", l.Last())

	l.Truncate(1)
	require.Equal(t, []string{"A"}, l.Serials())
	require.False(t, l.Contains("B"))
	require.NoError(t, l.Append("B"))

	l.Truncate(10)
	require.Equal(t, 2, l.Len())
}

func TestLedgerSerialsIsCopy(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Append("A"))
	out := l.Serials()
	out[0] = "Z"
	require.Equal(t, []string{"A"}, l.Serials())
}

func TestExtractSerial(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "slash marker", in: "S/N 1234567", want: "1234567", ok: true},
		{name: "colon after marker falls back", in: "sn:7654321", want: "7654321", ok: true},
		{name: "sn marker no gap", in: "SN7654321", want: "7654321", ok: true},
		{name: "dotted marker", in: "s.n.  2222222 rev A", want: "2222222", ok: true},
		{name: "marker beats earlier digits", in: "PN 9999999 S/N 1111111", want: "1111111", ok: true},
		{name: "fallback to bare run", in: "lot 3333333 rev b", want: "3333333", ok: true},
		{name: "full width digits", in: "S/N １２３４５６７", want: "1234567", ok: true},
		{name: "too short", in: "S/N 123456", want: "", ok: false},
		{name: "empty", in: "", want: "", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractSerial(tc.in)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}
