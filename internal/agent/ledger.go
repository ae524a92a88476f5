package agent

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
)

// Budget bounds the history window shown to the model. Zero fields are unbounded.
type Budget struct {
	MaxEntries int
	MaxChars   int
	MaxTokens  int
}

// BudgetFromConfig converts the history section of the agent config.
func BudgetFromConfig(cfg config.HistoryConfig) Budget {
	return Budget{MaxEntries: cfg.MaxEntries, MaxChars: cfg.MaxChars, MaxTokens: cfg.MaxTokens}
}

// Ledger is the append-only history of a session. It is owned by the loop
// and is not safe for concurrent use.
type Ledger struct {
	entries     []schemas.HistoryEntry
	entropy     io.Reader
	now         func() time.Time
	countTokens func(string) int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entropy:     ulid.Monotonic(rand.Reader, 0),
		now:         func() time.Time { return time.Now().UTC() },
		countTokens: CountTokens,
	}
}

// Append stores a copy of e, assigning its id and timestamp, and returns the
// stored entry.
func (l *Ledger) Append(e schemas.HistoryEntry) schemas.HistoryEntry {
	ts := l.now()
	e.ID = ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
	e.Timestamp = ts
	e = cloneEntry(e)
	l.entries = append(l.entries, e)
	return cloneEntry(e)
}

// Len is the number of recorded entries.
func (l *Ledger) Len() int { return len(l.entries) }

// Full returns a copy of every entry in order.
func (l *Ledger) Full() []schemas.HistoryEntry {
	out := make([]schemas.HistoryEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Window returns the most recent entries that fit every non-zero limit of b,
// oldest first. Older entries are dropped before newer ones.
func (l *Ledger) Window(b Budget) []schemas.HistoryEntry {
	var chars, tokens int
	start := len(l.entries)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if b.MaxEntries > 0 && len(l.entries)-i > b.MaxEntries {
			break
		}
		line := EntryLine(l.entries[i])
		if b.MaxChars > 0 && chars+len(line) > b.MaxChars {
			break
		}
		if b.MaxTokens > 0 {
			n := l.countTokens(line)
			if tokens+n > b.MaxTokens {
				break
			}
			tokens += n
		}
		chars += len(line)
		start = i
	}

	out := make([]schemas.HistoryEntry, 0, len(l.entries)-start)
	for _, e := range l.entries[start:] {
		out = append(out, cloneEntry(e))
	}
	return out
}

// EntryLine renders an entry as the single line shown to the model.
func EntryLine(e schemas.HistoryEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "step %d on %s: ", e.Step, e.Observation.URL)
	if e.Action == nil {
		b.WriteString("(no action)")
	} else {
		b.WriteString(e.Action.String())
	}
	b.WriteString(" -> ")
	b.WriteString(string(e.Outcome.Status))
	if e.Outcome.Failed() {
		fmt.Fprintf(&b, " [%s]", e.Outcome.Kind)
		if e.Outcome.Detail != "" {
			fmt.Fprintf(&b, " %s", e.Outcome.Detail)
		}
	} else if e.Outcome.Hint != "" {
		fmt.Fprintf(&b, " (now at %s)", e.Outcome.Hint)
	}
	return b.String()
}

func cloneEntry(e schemas.HistoryEntry) schemas.HistoryEntry {
	if e.Action != nil {
		a := *e.Action
		e.Action = &a
	}
	return e
}
