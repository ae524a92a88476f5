package schemas

import "time"

// TerminationStatus is the state of a session. Running is the only non-terminal value.
type TerminationStatus string

const (
	StatusRunning               TerminationStatus = "running"
	StatusSucceeded             TerminationStatus = "succeeded"
	StatusFailedGoalUnreachable TerminationStatus = "failed_goal_unreachable"
	StatusAborted               TerminationStatus = "aborted"
)

// Terminal reports whether no further transitions are allowed.
func (s TerminationStatus) Terminal() bool { return s != StatusRunning && s != "" }

// Goal is the operator's natural-language objective. It never changes during a session.
type Goal string

// SessionReport is what a finished session hands back to its caller.
type SessionReport struct {
	SessionID  string            `json:"session_id" yaml:"session_id"`
	Goal       Goal              `json:"goal" yaml:"goal"`
	StartURL   string            `json:"start_url,omitempty" yaml:"start_url,omitempty"`
	Status     TerminationStatus `json:"status" yaml:"status"`
	Reason     string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Result     string            `json:"result,omitempty" yaml:"result,omitempty"`
	Iterations int               `json:"iterations" yaml:"iterations"`
	StartedAt  time.Time         `json:"started_at" yaml:"started_at"`
	EndedAt    time.Time         `json:"ended_at" yaml:"ended_at"`
	History    []HistoryEntry    `json:"history" yaml:"history"`
}

// Duration is the wall time between start and end.
func (r *SessionReport) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }
