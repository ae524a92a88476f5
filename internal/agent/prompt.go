package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

const systemPrompt = `You are wayfinder, an agent that operates a web browser to accomplish a goal for its operator.
Each turn you receive the goal, the current page and the recent history of what you did. You respond with exactly one JSON object describing the next action.

Available actions:
- {"kind": "navigate", "url": "<absolute http(s) URL>"}
- {"kind": "click", "element_ref": "<ref>"}
- {"kind": "type", "element_ref": "<ref>", "text": "<text to enter, replacing the current value>"}
- {"kind": "scroll", "direction": "up" | "down" | "top" | "bottom"}
- {"kind": "wait", "wait_ms": <1 to 30000>}
- {"kind": "finish", "result": "<what was found or done>"}
- {"kind": "abort", "reason": "<why the goal cannot be reached>"}

Every action may include "thought": a short note on why you chose it.

Rules:
- Element references such as e12 are valid only for the page shown in this turn. Never invent one.
- Use finish only when the goal is achieved, and put the answer in result.
- Use abort only when the goal cannot be reached from here.
- History entries marked failed explain what went wrong:
  - stale_reference: the page changed; pick an element from the current page.
  - timeout: the page was slow; consider wait before trying again.
  - navigation_blocked or permission_denied: that URL cannot be used; choose another route.
  - goal_unverified: your finish was not accepted; keep working.
  - decision_error: your previous reply was not a valid action.
- Do not repeat an action that just failed on the same page.

Respond with the JSON object only.`

// buildUserPrompt renders the goal, the observation and the history window.
func buildUserPrompt(goal schemas.Goal, obs schemas.Observation, window []schemas.HistoryEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: %s\n\n", goal)

	fmt.Fprintf(&b, "Current page:\nURL: %s\nTitle: %s\n\n", obs.URL, obs.Title)

	b.WriteString("Interactive elements:\n")
	if len(obs.Elements) == 0 {
		b.WriteString("(none visible)\n")
	}
	for _, el := range obs.Elements {
		fmt.Fprintf(&b, "[%s] %s %q", el.Ref, el.Role, el.Label)
		if el.Href != "" {
			fmt.Fprintf(&b, " -> %s", el.Href)
		}
		b.WriteByte('\n')
	}
	if obs.ElementsOmitted > 0 {
		fmt.Fprintf(&b, "(%d more elements not shown; scroll to reveal others)\n", obs.ElementsOmitted)
	}

	if obs.Text != "" {
		b.WriteString("\nPage text:\n")
		b.WriteString(obs.Text)
		if obs.TextTruncated {
			b.WriteString("\n(text truncated)")
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nRecent history (oldest first):\n")
	if len(window) == 0 {
		b.WriteString("(nothing yet)\n")
	}
	for _, e := range window {
		b.WriteString(EntryLine(e))
		b.WriteByte('\n')
	}

	b.WriteString("\nDecide the next action. Respond with a single JSON object.")
	return b.String()
}
