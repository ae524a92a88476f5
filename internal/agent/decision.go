package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

const defaultDecisionTimeout = 30 * time.Second

// actionSchema is the shape a model reply must have before it is decoded.
const actionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"enum": ["navigate", "click", "type", "scroll", "wait", "finish", "abort"]},
    "url": {"type": "string", "minLength": 1},
    "element_ref": {"type": "string", "pattern": "^e[1-9][0-9]*$"},
    "text": {"type": "string"},
    "direction": {"enum": ["up", "down", "top", "bottom"]},
    "wait_ms": {"type": "integer", "minimum": 1, "maximum": 30000},
    "result": {"type": "string"},
    "reason": {"type": "string", "minLength": 1},
    "thought": {"type": "string"}
  },
  "allOf": [
    {"if": {"properties": {"kind": {"const": "navigate"}}}, "then": {"required": ["url"]}},
    {"if": {"properties": {"kind": {"const": "click"}}}, "then": {"required": ["element_ref"]}},
    {"if": {"properties": {"kind": {"const": "type"}}}, "then": {"required": ["element_ref", "text"]}},
    {"if": {"properties": {"kind": {"const": "scroll"}}}, "then": {"required": ["direction"]}},
    {"if": {"properties": {"kind": {"const": "wait"}}}, "then": {"required": ["wait_ms"]}},
    {"if": {"properties": {"kind": {"const": "abort"}}}, "then": {"required": ["reason"]}}
  ]
}`

var compiledActionSchema = jsonschema.MustCompileString("action.json", actionSchema)

// jsonBlockRegex extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?i:json)?\\s*(.*?)\\s*%s", "```", "```"))

// DecisionEngine asks the model for the next action and validates the answer.
// It does not retry; the loop decides what to do with a failure.
type DecisionEngine struct {
	client      schemas.LLMClient
	model       string
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

// NewDecisionEngine creates a decision engine for the given model settings.
func NewDecisionEngine(client schemas.LLMClient, cfg config.LLMModelConfig, logger *zap.Logger) *DecisionEngine {
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = defaultDecisionTimeout
	}
	return &DecisionEngine{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		logger:      logger.Named("decision"),
	}
}

// Decide returns exactly one valid action for obs, or a *schemas.DecisionError.
func (d *DecisionEngine) Decide(ctx context.Context, goal schemas.Goal, obs schemas.Observation, window []schemas.HistoryEntry) (schemas.Action, error) {
	apiCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(goal, obs, window),
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: float64(d.temperature)},
	}

	response, err := d.client.Generate(apiCtx, req)
	if err != nil {
		observability.DecisionFailures.WithLabelValues(string(schemas.DecisionModelUnavailable)).Inc()
		return schemas.Action{}, &schemas.DecisionError{
			Reason: schemas.DecisionModelUnavailable,
			Detail: "model call failed",
			Err:    err,
		}
	}

	action, err := ParseAction(response, obs)
	if err != nil {
		observability.DecisionFailures.WithLabelValues(string(schemas.DecisionInvalidAction)).Inc()
		d.logger.Warn("Model reply rejected.", zap.String("raw_response", response), zap.Error(err))
		return schemas.Action{}, err
	}

	d.logger.Debug("Action decided.", zap.String("action", action.String()), zap.String("thought", action.Thought))
	return action, nil
}

// ParseAction extracts one action from a model reply and checks it against obs.
// Every rejection is a *schemas.DecisionError with reason invalid_action.
func ParseAction(response string, obs schemas.Observation) (schemas.Action, error) {
	invalid := func(detail string, err error) error {
		return &schemas.DecisionError{Reason: schemas.DecisionInvalidAction, Detail: detail, Raw: response, Err: err}
	}

	if strings.HasPrefix(replyBody(response), "[") {
		return schemas.Action{}, invalid("reply is a JSON array, expected a single object", nil)
	}
	raw := extractJSON(response)
	if raw == "" {
		return schemas.Action{}, invalid("no JSON object in reply", nil)
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		// Prose before the object may contain braces of its own.
		alt := lastBalancedObject(raw)
		if alt == "" || alt == raw || json.Unmarshal([]byte(alt), &doc) != nil {
			return schemas.Action{}, invalid("reply is not valid JSON", err)
		}
		raw = alt
	}
	if err := compiledActionSchema.Validate(doc); err != nil {
		return schemas.Action{}, invalid("reply does not match the action schema", err)
	}

	var action schemas.Action
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return schemas.Action{}, invalid("reply could not be decoded", err)
	}
	action.Text = strings.TrimRight(action.Text, "\r\n")
	if err := action.Validate(); err != nil {
		return schemas.Action{}, invalid("action is not well formed", err)
	}
	if action.RequiresElement() && !obs.HasRef(action.ElementRef) {
		return schemas.Action{}, invalid(fmt.Sprintf("element %s is not on the current page", action.ElementRef), nil)
	}
	return action, nil
}

// replyBody is the content of the first fenced block, or the whole reply.
func replyBody(response string) string {
	response = strings.TrimSpace(response)
	if m := jsonBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

func extractJSON(response string) string {
	body := replyBody(response)
	first := strings.Index(body, "{")
	last := strings.LastIndex(body, "}")
	if first != -1 && last > first {
		return body[first : last+1]
	}
	return ""
}

// lastBalancedObject returns the last top-level {...} span in s, skipping
// braces inside JSON strings.
func lastBalancedObject(s string) string {
	var found string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					found = s[start : i+1]
				}
			}
		}
	}
	return found
}

// IsModelUnavailable reports whether err is a decision failure caused by the model call.
func IsModelUnavailable(err error) bool {
	var de *schemas.DecisionError
	return errors.As(err, &de) && de.Reason == schemas.DecisionModelUnavailable
}
