package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/browser/session"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/observability"
)

// Allows for mocking in tests.
var uuidNewString = uuid.NewString

// PageObserver captures the current page.
type PageObserver interface {
	Observe(ctx context.Context) (schemas.Observation, error)
}

// Decider chooses the next action.
type Decider interface {
	Decide(ctx context.Context, goal schemas.Goal, obs schemas.Observation, window []schemas.HistoryEntry) (schemas.Action, error)
}

// ActionExecutor applies an action to the browser.
type ActionExecutor interface {
	Execute(ctx context.Context, a schemas.Action) schemas.Outcome
}

// StepGate is consulted after every non-terminal iteration. Returning false
// aborts the session.
type StepGate interface {
	Continue(ctx context.Context, entry schemas.HistoryEntry) (bool, error)
}

// StepRecorder is told about every recorded step, for example to save a screenshot.
type StepRecorder interface {
	Record(ctx context.Context, step int, label string)
}

// Agent runs one browsing session toward a goal. It owns its session state;
// Run must not be called concurrently.
type Agent struct {
	id       string
	goal     schemas.Goal
	startURL string
	browser  schemas.BrowserSession

	observer  PageObserver
	decider   Decider
	executor  ActionExecutor
	ledger    *Ledger
	budget    Budget
	loop      config.LoopConfig
	predicate *SuccessPredicate
	gate      StepGate
	recorder  StepRecorder
	logger    *zap.Logger
}

// Option customizes an Agent.
type Option func(*Agent)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option { return func(a *Agent) { a.id = id } }

// WithStepGate installs an operator gate.
func WithStepGate(g StepGate) Option { return func(a *Agent) { a.gate = g } }

// WithRecorder installs a step recorder.
func WithRecorder(r StepRecorder) Option { return func(a *Agent) { a.recorder = r } }

// WithObserver replaces the default page observer.
func WithObserver(o PageObserver) Option { return func(a *Agent) { a.observer = o } }

// WithDecider replaces the default model-backed decision engine.
func WithDecider(d Decider) Option { return func(a *Agent) { a.decider = d } }

// WithExecutor replaces the default action executor.
func WithExecutor(e ActionExecutor) Option { return func(a *Agent) { a.executor = e } }

// New creates an agent for cfg.Agent.Goal over an open browser session.
func New(cfg *config.Config, browser schemas.BrowserSession, client schemas.LLMClient, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if strings.TrimSpace(cfg.Agent.Goal) == "" {
		return nil, errors.New("a goal is required")
	}
	if err := cfg.Agent.Validate(); err != nil {
		return nil, err
	}
	predicate, err := CompileSuccessPredicate(cfg.Agent.Loop.SuccessPredicate)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		goal:      schemas.Goal(cfg.Agent.Goal),
		startURL:  cfg.Agent.StartURL,
		browser:   browser,
		ledger:    NewLedger(),
		budget:    BudgetFromConfig(cfg.Agent.History),
		loop:      cfg.Agent.Loop,
		predicate: predicate,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.id == "" {
		a.id = uuidNewString()
	}
	a.logger = logger.Named("agent").With(zap.String("session_id", a.id))

	if a.observer == nil {
		a.observer = NewObserver(browser, cfg.Agent.Observer, cfg.Network.ObserveTimeout, a.logger)
	}
	if a.decider == nil {
		if client == nil {
			return nil, errors.New("an LLM client is required")
		}
		a.decider = NewDecisionEngine(client, cfg.Agent.LLM, a.logger)
	}
	if a.executor == nil {
		a.executor = NewExecutor(browser, cfg, a.logger)
	}
	return a, nil
}

// ID is the session id used in logs and the report.
func (a *Agent) ID() string { return a.id }

// sessionState is mutated only by Run.
type sessionState struct {
	status     schemas.TerminationStatus
	reason     string
	result     string
	iterations int
	failures   int // consecutive observation or decision failures
	lastFail   string
	repeats    int
	last       schemas.ObservationSummary
	startedAt  time.Time
}

func (s *sessionState) terminate(status schemas.TerminationStatus, reason string) {
	s.status = status
	s.reason = reason
}

// Run drives the loop until a terminal state and always returns a report.
// Cancelling ctx aborts the session at the next iteration boundary; calls in
// flight finish under their own timeouts.
func (a *Agent) Run(ctx context.Context) *schemas.SessionReport {
	st := &sessionState{status: schemas.StatusRunning, startedAt: time.Now().UTC()}

	ctx, span := observability.StartSpan(ctx, "session", trace.WithAttributes(observability.AttrSessionID.String(a.id)))
	defer span.End()

	a.logger.Info("Session starting.", zap.String("goal", string(a.goal)), zap.String("start_url", a.startURL))

	var startErr error
	if a.startURL != "" {
		startErr = a.browser.Navigate(session.Detach(ctx), a.startURL)
		if startErr != nil {
			a.logger.Warn("Start URL could not be loaded.", zap.Error(startErr))
		}
	}
	a.record(ctx, 0, "start")

	for st.status == schemas.StatusRunning {
		if err := ctx.Err(); err != nil {
			st.terminate(schemas.StatusAborted, fmt.Sprintf("cancelled: %v", err))
			break
		}
		entry := a.iterate(ctx, st, startErr)
		startErr = nil

		a.record(ctx, entry.Step, stepLabel(entry))
		if st.status != schemas.StatusRunning {
			break
		}
		if a.loop.MaxSteps > 0 && st.iterations >= a.loop.MaxSteps {
			st.terminate(schemas.StatusFailedGoalUnreachable,
				fmt.Sprintf("%s: step budget of %d exhausted", schemas.ErrKindBudgetExceeded, a.loop.MaxSteps))
			break
		}
		if a.gate != nil {
			ok, err := a.gate.Continue(ctx, entry)
			switch {
			case ctx.Err() != nil:
				st.terminate(schemas.StatusAborted, fmt.Sprintf("cancelled: %v", ctx.Err()))
			case errors.Is(err, io.EOF):
				st.terminate(schemas.StatusAborted, "operator input closed")
			case err != nil:
				st.terminate(schemas.StatusAborted, fmt.Sprintf("operator gate failed: %v", err))
			case !ok:
				st.terminate(schemas.StatusAborted, "operator declined to continue")
			}
		}
	}

	report := &schemas.SessionReport{
		SessionID:  a.id,
		Goal:       a.goal,
		StartURL:   a.startURL,
		Status:     st.status,
		Reason:     st.reason,
		Result:     st.result,
		Iterations: st.iterations,
		StartedAt:  st.startedAt,
		EndedAt:    time.Now().UTC(),
		History:    a.ledger.Full(),
	}

	observability.Sessions.WithLabelValues(string(report.Status)).Inc()
	span.SetAttributes(observability.AttrStatus.String(string(report.Status)), observability.AttrStep.Int(report.Iterations))
	if report.Status != schemas.StatusSucceeded {
		span.SetStatus(codes.Error, report.Reason)
	}
	a.record(ctx, st.iterations, "final")
	a.logger.Info("Session finished.",
		zap.String("status", string(report.Status)),
		zap.String("reason", report.Reason),
		zap.Int("iterations", report.Iterations),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

// iterate runs one observe, decide, act cycle and records exactly one entry.
func (a *Agent) iterate(ctx context.Context, st *sessionState, startErr error) schemas.HistoryEntry {
	step := st.iterations + 1
	log := a.logger.With(zap.Int("step", step))
	callCtx := session.Detach(ctx)

	obs, err := a.observe(callCtx, step, startErr)
	if err != nil {
		st.failures++
		log.Warn("Observation failed.", zap.Error(err), zap.Int("consecutive_failures", st.failures))
		entry := a.append(st, st.last, nil, schemas.Failed(schemas.ErrKindObservation, err.Error()))
		a.checkFailureStreak(st, "observation", err)
		return entry
	}
	st.last = obs.Summary()

	action, err := a.decide(callCtx, step, obs)
	if err != nil {
		st.failures++
		log.Warn("Decision failed.", zap.Error(err), zap.Int("consecutive_failures", st.failures), zap.Bool("model_unavailable", IsModelUnavailable(err)))
		entry := a.append(st, st.last, nil, schemas.Failed(schemas.ErrKindDecision, err.Error()))
		a.checkFailureStreak(st, "decision", err)
		return entry
	}
	st.failures = 0
	log.Info("Action decided.", zap.String("action", action.String()))

	var outcome schemas.Outcome
	switch action.Kind {
	case schemas.ActionFinish:
		outcome = a.verifyFinish(obs, action, step)
		if !outcome.Failed() {
			entry := a.append(st, st.last, &action, outcome)
			st.result = action.Result
			st.terminate(schemas.StatusSucceeded, "goal reported as achieved")
			return entry
		}
		log.Info("Finish not accepted.", zap.String("detail", outcome.Detail))
	case schemas.ActionAbort:
		entry := a.append(st, st.last, &action, schemas.Applied(""))
		st.terminate(schemas.StatusAborted, action.Reason)
		return entry
	default:
		outcome = a.execute(callCtx, step, action)
	}

	entry := a.append(st, st.last, &action, outcome)
	a.trackRepeats(st, action, obs, outcome)
	if outcome.Failed() {
		log.Info("Action failed.",
			zap.String("kind", string(outcome.Kind)),
			zap.String("detail", outcome.Detail),
			zap.Bool("recoverable", outcome.Recoverable()),
		)
	}
	return entry
}

func (a *Agent) observe(ctx context.Context, step int, startErr error) (schemas.Observation, error) {
	ctx, span := observability.StartSpan(ctx, "observe", trace.WithAttributes(observability.AttrStep.Int(step)))
	defer span.End()

	if startErr != nil {
		err := &schemas.ObservationError{Err: fmt.Errorf("loading start url: %w", startErr)}
		span.RecordError(err)
		return schemas.Observation{}, err
	}
	obs, err := a.observer.Observe(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "observation failed")
		return schemas.Observation{}, err
	}
	span.SetAttributes(observability.AttrPageURL.String(obs.URL), observability.AttrElementCount.Int(len(obs.Elements)))
	return obs, nil
}

func (a *Agent) decide(ctx context.Context, step int, obs schemas.Observation) (schemas.Action, error) {
	ctx, span := observability.StartSpan(ctx, "decide", trace.WithAttributes(observability.AttrStep.Int(step)))
	defer span.End()

	action, err := a.decider.Decide(ctx, a.goal, obs, a.ledger.Window(a.budget))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		return schemas.Action{}, err
	}
	span.SetAttributes(observability.AttrActionKind.String(string(action.Kind)))
	return action, nil
}

func (a *Agent) execute(ctx context.Context, step int, action schemas.Action) schemas.Outcome {
	ctx, span := observability.StartSpan(ctx, "execute", trace.WithAttributes(
		observability.AttrStep.Int(step),
		observability.AttrActionKind.String(string(action.Kind)),
	))
	defer span.End()

	outcome := a.executor.Execute(ctx, action)
	span.SetAttributes(observability.AttrOutcome.String(string(outcome.Status)))
	if outcome.Failed() {
		span.SetAttributes(observability.AttrErrorKind.String(string(outcome.Kind)))
		span.SetStatus(codes.Error, outcome.Detail)
	}
	return outcome
}

// verifyFinish applies the success predicate to a finish action.
func (a *Agent) verifyFinish(obs schemas.Observation, action schemas.Action, step int) schemas.Outcome {
	ok, err := a.predicate.Evaluate(PredicateInput{URL: obs.URL, Title: obs.Title, Result: action.Result, Steps: step})
	switch {
	case err != nil:
		return schemas.Failed(schemas.ErrKindGoalUnverified, err.Error())
	case !ok:
		return schemas.Failed(schemas.ErrKindGoalUnverified, fmt.Sprintf("success predicate %q does not hold", a.predicate))
	}
	return schemas.Applied(obs.URL)
}

// append records one entry and advances the iteration counter.
func (a *Agent) append(st *sessionState, obs schemas.ObservationSummary, action *schemas.Action, outcome schemas.Outcome) schemas.HistoryEntry {
	st.iterations++
	entry := a.ledger.Append(schemas.HistoryEntry{
		Step:        st.iterations,
		Observation: obs,
		Action:      action,
		Outcome:     outcome,
	})

	kind := "none"
	if action != nil {
		kind = string(action.Kind)
	}
	observability.Iterations.WithLabelValues(kind).Inc()
	observability.Outcomes.WithLabelValues(string(outcome.Status), string(outcome.Kind)).Inc()
	return entry
}

func (a *Agent) checkFailureStreak(st *sessionState, what string, err error) {
	if limit := a.loop.MaxConsecutiveFailures; limit > 0 && st.failures >= limit {
		st.terminate(schemas.StatusFailedGoalUnreachable,
			fmt.Sprintf("%s failed %d consecutive times: %v", what, st.failures, err))
	}
}

// trackRepeats ends the session when the same action keeps failing against
// an unchanged page.
func (a *Agent) trackRepeats(st *sessionState, action schemas.Action, obs schemas.Observation, outcome schemas.Outcome) {
	if !outcome.Failed() {
		st.lastFail, st.repeats = "", 0
		return
	}
	key := action.Key() + "\x1e" + obs.Fingerprint
	if key == st.lastFail {
		st.repeats++
	} else {
		st.lastFail, st.repeats = key, 1
	}
	if limit := a.loop.MaxRepeatedFailures; limit > 0 && st.repeats >= limit {
		st.terminate(schemas.StatusFailedGoalUnreachable,
			fmt.Sprintf("action %q failed %d times in a row on an unchanged page (%s)", action.String(), st.repeats, outcome.Kind))
	}
}

func (a *Agent) record(ctx context.Context, step int, label string) {
	if a.recorder != nil {
		a.recorder.Record(session.Detach(ctx), step, label)
	}
}

func stepLabel(e schemas.HistoryEntry) string {
	if e.Action == nil {
		return string(e.Outcome.Kind)
	}
	return string(e.Action.Kind)
}
