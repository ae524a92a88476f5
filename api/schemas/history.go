package schemas

import "time"

// OutcomeStatus is the result of executing (or failing to produce) an action.
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is what happened when an action ran. Every history entry has one.
type Outcome struct {
	Status     OutcomeStatus `json:"status" yaml:"status"`
	Kind       ErrorKind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Detail     string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Hint       string        `json:"hint,omitempty" yaml:"hint,omitempty"` // e.g. the URL after a click that navigated
	Attempts   int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	DurationMS int64         `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// Applied builds a successful outcome.
func Applied(hint string) Outcome {
	return Outcome{Status: OutcomeApplied, Hint: hint, Attempts: 1}
}

// Failed builds a failed outcome of the given kind.
func Failed(kind ErrorKind, detail string) Outcome {
	return Outcome{Status: OutcomeFailed, Kind: kind, Detail: detail, Attempts: 1}
}

func (o Outcome) Failed() bool { return o.Status == OutcomeFailed }

// Recoverable reports whether a failed outcome should trigger a re-observation.
func (o Outcome) Recoverable() bool { return o.Failed() && o.Kind.Recoverable() }

// HistoryEntry is one immutable record in the ledger. Action is nil for
// synthetic entries recorded when observation or decision failed.
type HistoryEntry struct {
	ID          string             `json:"id" yaml:"id"`
	Step        int                `json:"step" yaml:"step"`
	Observation ObservationSummary `json:"observation" yaml:"observation"`
	Action      *Action            `json:"action,omitempty" yaml:"action,omitempty"`
	Outcome     Outcome            `json:"outcome" yaml:"outcome"`
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
}

// Synthetic reports whether the entry records a failure to act rather than an action.
func (e HistoryEntry) Synthetic() bool { return e.Action == nil }
