package schemas

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why an operation failed. The values appear in history
// entries and reports, and are shown to the model.
type ErrorKind string

const (
	ErrKindObservation       ErrorKind = "observation_error"
	ErrKindDecision          ErrorKind = "decision_error"
	ErrKindStaleReference    ErrorKind = "stale_reference"
	ErrKindTimeout           ErrorKind = "timeout"
	ErrKindNavigationBlocked ErrorKind = "navigation_blocked"
	ErrKindPermissionDenied  ErrorKind = "permission_denied"
	ErrKindBudgetExceeded    ErrorKind = "budget_exceeded"
	ErrKindGoalUnverified    ErrorKind = "goal_unverified"
	ErrKindActionFailed      ErrorKind = "action_failed" // anything the browser reported that fits no other kind
)

// Recoverable reports whether the failure is expected to clear on its own after
// a fresh observation or a single retry.
func (k ErrorKind) Recoverable() bool {
	return k == ErrKindStaleReference || k == ErrKindTimeout
}

// BrowserError is returned by browser sessions so the executor can classify failures.
type BrowserError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *BrowserError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *BrowserError) Unwrap() error { return e.Err }

// NewBrowserError wraps err with a classification.
func NewBrowserError(kind ErrorKind, op string, err error) *BrowserError {
	return &BrowserError{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err. Deadline errors map to ErrKindTimeout
// and unclassified errors to ErrKindActionFailed.
func KindOf(err error) ErrorKind {
	var be *BrowserError
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindActionFailed
}

// ModelErrorKind separates the ways a model call can fail before producing text.
type ModelErrorKind string

const (
	ModelErrTransport ModelErrorKind = "transport" // network errors, 429 and 5xx
	ModelErrAuth      ModelErrorKind = "auth"      // 401 and 403
	ModelErrBlocked   ModelErrorKind = "blocked"   // safety filters or empty candidates
	ModelErrRequest   ModelErrorKind = "request"   // other 4xx
)

// ModelError is returned by LLM clients for failures that are not the model's
// answer being unusable.
type ModelError struct {
	Kind       ModelErrorKind
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("model %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("model %s error: %v", e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Transient reports whether retrying later could succeed.
func (e *ModelError) Transient() bool { return e.Kind == ModelErrTransport }

// ObservationError means the page could not be observed.
type ObservationError struct {
	Err error
}

func (e *ObservationError) Error() string { return fmt.Sprintf("observation failed: %v", e.Err) }
func (e *ObservationError) Unwrap() error { return e.Err }

// DecisionReason says why no action could be decided.
type DecisionReason string

const (
	DecisionInvalidAction    DecisionReason = "invalid_action"
	DecisionModelUnavailable DecisionReason = "model_unavailable"
)

// DecisionError is returned by the decision engine instead of a guessed action.
type DecisionError struct {
	Reason DecisionReason
	Detail string
	Raw    string // model output that failed to parse, if any
	Err    error
}

func (e *DecisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decision failed (%s): %s: %v", e.Reason, e.Detail, e.Err)
	}
	return fmt.Sprintf("decision failed (%s): %s", e.Reason, e.Detail)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// ErrReportNotFound is returned by report stores for unknown session ids.
var ErrReportNotFound = errors.New("session report not found")
