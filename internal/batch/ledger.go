package batch

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Ledger keeps scanned serials in scan order and rejects repeats.
type Ledger struct {
	serials []string
	index   map[string]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Len returns the number of recorded serials.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.serials)
}

// Contains reports whether serial was already recorded.
func (l *Ledger) Contains(serial string) bool {
	if l == nil {
		return false
	}
	_, ok := l.index[serial]
	return ok
}

// Append records serial at the end of the ledger.
func (l *Ledger) Append(serial string) error {
	if l.Contains(serial) {
		return ErrDuplicateSerial
	}
	l.index[serial] = len(l.serials)
	l.serials = append(l.serials, serial)
	return nil
}

// Truncate keeps the first n serials.
func (l *Ledger) Truncate(n int) {
	if n < 0 || n >= len(l.serials) {
		return
	}
	for _, s := range l.serials[n:] {
		delete(l.index, s)
	}
	l.serials = l.serials[:n]
}

// Serials returns a copy of the ledger in scan order.
func (l *Ledger) Serials() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.serials))
	copy(out, l.serials)
	return out
}

// Last returns the most recent serial.
func (l *Ledger) Last() string {
	if l.Len() == 0 {
		return ""
	}
	return l.serials[len(l.serials)-1]
}

// NormalizeSerial folds scanner output into a canonical form. Full-width
// digits and letters collapse to ASCII under NFKC; case is kept, so ab12 and
// AB12 are distinct serials.
func NormalizeSerial(raw string) string {
	return strings.TrimSpace(norm.NFKC.String(raw))
}

var (
	labelledSerial = regexp.MustCompile(`(?i)(?:S/N|SN|S\.N\.)\s*(\d{7})`)
	bareSerial     = regexp.MustCompile(`\d{7}`)
)

// ExtractSerial pulls a serial out of OCR text read off a label. A seven
// digit number after an S/N, SN or S.N. marker wins; otherwise the first run
// of seven digits is taken.
func ExtractSerial(text string) (string, bool) {
	text = norm.NFKC.String(text)
	if m := labelledSerial.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := bareSerial.FindString(text); m != "" {
		return m, true
	}
	return "", false
}
