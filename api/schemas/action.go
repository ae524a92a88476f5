package schemas

import (
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies one of the closed set of things the agent may do next.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate" // Load a URL in the current tab.
	ActionClick    ActionKind = "click"    // Click an element from the current observation.
	ActionType     ActionKind = "type"     // Type text into an element from the current observation.
	ActionScroll   ActionKind = "scroll"   // Scroll the viewport.
	ActionWait     ActionKind = "wait"     // Pause to let the page settle.
	ActionFinish   ActionKind = "finish"   // Terminal: the goal is believed achieved.
	ActionAbort    ActionKind = "abort"    // Terminal: the agent gives up with a reason.
)

// ActionKinds lists every valid kind in prompt order.
var ActionKinds = []ActionKind{
	ActionNavigate, ActionClick, ActionType, ActionScroll, ActionWait, ActionFinish, ActionAbort,
}

// Valid reports whether k is a member of the closed action set.
func (k ActionKind) Valid() bool {
	for _, known := range ActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the kind ends the session instead of touching the browser.
func (k ActionKind) IsTerminal() bool {
	return k == ActionFinish || k == ActionAbort
}

// ScrollDirection is the direction argument of a scroll action.
type ScrollDirection string

const (
	ScrollUp     ScrollDirection = "up"
	ScrollDown   ScrollDirection = "down"
	ScrollTop    ScrollDirection = "top"
	ScrollBottom ScrollDirection = "bottom"
)

// Valid reports whether d is a supported direction.
func (d ScrollDirection) Valid() bool {
	switch d {
	case ScrollUp, ScrollDown, ScrollTop, ScrollBottom:
		return true
	}
	return false
}

// MaxWait bounds a single wait action.
const MaxWait = 30 * time.Second

// Action is a single step chosen by the decision engine. Only the fields that
// belong to Kind are meaningful; Validate enforces that they are present.
type Action struct {
	Kind       ActionKind      `json:"kind" yaml:"kind"`
	URL        string          `json:"url,omitempty" yaml:"url,omitempty"`                 // navigate
	ElementRef string          `json:"element_ref,omitempty" yaml:"element_ref,omitempty"` // click, type
	Text       string          `json:"text,omitempty" yaml:"text,omitempty"`               // type
	Direction  ScrollDirection `json:"direction,omitempty" yaml:"direction,omitempty"`     // scroll
	WaitMillis int64           `json:"wait_ms,omitempty" yaml:"wait_ms,omitempty"`         // wait
	Result     string          `json:"result,omitempty" yaml:"result,omitempty"`           // finish
	Reason     string          `json:"reason,omitempty" yaml:"reason,omitempty"`           // abort
	Thought    string          `json:"thought,omitempty" yaml:"thought,omitempty"`         // model's reasoning, informational only
}

func Navigate(url string) Action        { return Action{Kind: ActionNavigate, URL: url} }
func Click(ref string) Action           { return Action{Kind: ActionClick, ElementRef: ref} }
func Type(ref, text string) Action      { return Action{Kind: ActionType, ElementRef: ref, Text: text} }
func Scroll(dir ScrollDirection) Action { return Action{Kind: ActionScroll, Direction: dir} }
func Finish(result string) Action       { return Action{Kind: ActionFinish, Result: result} }
func Abort(reason string) Action        { return Action{Kind: ActionAbort, Reason: reason} }
func Wait(d time.Duration) Action       { return Action{Kind: ActionWait, WaitMillis: d.Milliseconds()} }

// WaitDuration returns the pause requested by a wait action.
func (a Action) WaitDuration() time.Duration {
	return time.Duration(a.WaitMillis) * time.Millisecond
}

// RequiresElement reports whether the action targets an element reference.
func (a Action) RequiresElement() bool {
	return a.Kind == ActionClick || a.Kind == ActionType
}

// Validate checks that the action is well formed for its kind. It does not
// check element references against an observation.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("navigate requires a url")
		}
	case ActionClick:
		if a.ElementRef == "" {
			return fmt.Errorf("click requires an element_ref")
		}
	case ActionType:
		if a.ElementRef == "" {
			return fmt.Errorf("type requires an element_ref")
		}
	case ActionScroll:
		if !a.Direction.Valid() {
			return fmt.Errorf("scroll direction %q is not one of up, down, top, bottom", a.Direction)
		}
	case ActionWait:
		if a.WaitMillis <= 0 || a.WaitDuration() > MaxWait {
			return fmt.Errorf("wait_ms must be between 1 and %d", MaxWait.Milliseconds())
		}
	case ActionFinish:
	case ActionAbort:
		if strings.TrimSpace(a.Reason) == "" {
			return fmt.Errorf("abort requires a reason")
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Key identifies the action's effect, ignoring the model's thought. Two actions
// with the same key would do the same thing to the same page.
func (a Action) Key() string {
	return strings.Join([]string{
		string(a.Kind), a.URL, a.ElementRef, a.Text, string(a.Direction),
		fmt.Sprint(a.WaitMillis),
	}, "\x1f")
}

// String renders a compact, human readable form used in prompts and reports.
func (a Action) String() string {
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate %s", a.URL)
	case ActionClick:
		return fmt.Sprintf("click %s", a.ElementRef)
	case ActionType:
		return fmt.Sprintf("type %s %q", a.ElementRef, a.Text)
	case ActionScroll:
		return fmt.Sprintf("scroll %s", a.Direction)
	case ActionWait:
		return fmt.Sprintf("wait %s", a.WaitDuration())
	case ActionFinish:
		return fmt.Sprintf("finish %q", a.Result)
	case ActionAbort:
		return fmt.Sprintf("abort %q", a.Reason)
	}
	return string(a.Kind)
}
