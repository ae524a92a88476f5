package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/config"
	"github.com/xkilldash9x/wayfinder/internal/mocks"
)

// -- fakes --

// pageObserver returns a fresh observation per call. A fixed fingerprint
// models a page that does not change.
type pageObserver struct {
	calls       int
	fingerprint string // empty means a new fingerprint on every call
	fail        func(call int) error
}

func (o *pageObserver) Observe(context.Context) (schemas.Observation, error) {
	o.calls++
	if o.fail != nil {
		if err := o.fail(o.calls); err != nil {
			return schemas.Observation{}, &schemas.ObservationError{Err: err}
		}
	}
	fp := o.fingerprint
	if fp == "" {
		fp = fmt.Sprintf("page-%d", o.calls)
	}
	return schemas.Observation{
		URL:         fmt.Sprintf("https://www.example.edu/%d", o.calls),
		Title:       "Directory",
		Elements:    []schemas.Element{{Ref: "e1", Role: "link", Label: "Faculty"}},
		Fingerprint: fp,
		CapturedAt:  time.Now(),
	}, nil
}

type decision struct {
	action schemas.Action
	err    error
}

// scriptedDecider replays decisions in order and repeats the last one.
type scriptedDecider struct {
	script  []decision
	calls   int
	seen    []schemas.Observation
	windows [][]schemas.HistoryEntry
	hook    func(call int)
}

func (d *scriptedDecider) Decide(_ context.Context, _ schemas.Goal, obs schemas.Observation, window []schemas.HistoryEntry) (schemas.Action, error) {
	d.calls++
	d.seen = append(d.seen, obs)
	d.windows = append(d.windows, window)
	if d.hook != nil {
		d.hook(d.calls)
	}
	i := d.calls - 1
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	return d.script[i].action, d.script[i].err
}

func always(a schemas.Action) *scriptedDecider {
	return &scriptedDecider{script: []decision{{action: a}}}
}

type deciderFunc func(obs schemas.Observation) (schemas.Action, error)

func (f deciderFunc) Decide(_ context.Context, _ schemas.Goal, obs schemas.Observation, _ []schemas.HistoryEntry) (schemas.Action, error) {
	return f(obs)
}

type recordingExecutor struct {
	executed []schemas.Action
	outcome  func(a schemas.Action) schemas.Outcome
}

func (e *recordingExecutor) Execute(_ context.Context, a schemas.Action) schemas.Outcome {
	e.executed = append(e.executed, a)
	if e.outcome == nil {
		return schemas.Applied("")
	}
	return e.outcome(a)
}

type gateFunc func(ctx context.Context, entry schemas.HistoryEntry) (bool, error)

func (f gateFunc) Continue(ctx context.Context, entry schemas.HistoryEntry) (bool, error) {
	return f(ctx, entry)
}

type labelRecorder struct{ labels []string }

func (r *labelRecorder) Record(_ context.Context, step int, label string) {
	r.labels = append(r.labels, fmt.Sprintf("%d:%s", step, label))
}

// -- helpers --

func loopConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.Goal = "find the chair of computer science"
	cfg.Agent.Loop.MaxSteps = 10
	// No token budget, so the window never loads the tokenizer.
	cfg.Agent.History.MaxTokens = 0
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, new(mocks.MockBrowserSession), nil, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return a
}

func assertLedgerConsistent(t *testing.T, report *schemas.SessionReport) {
	t.Helper()
	require.Len(t, report.History, report.Iterations)
	for i, e := range report.History {
		assert.Equal(t, i+1, e.Step)
		assert.NotEmpty(t, e.ID)
	}
	assert.True(t, report.Status.Terminal())
}

// -- tests --

func TestNewRequiresGoalAndClient(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.Goal = "  "
	_, err := New(cfg, new(mocks.MockBrowserSession), new(mocks.MockLLMClient), zap.NewNop())
	assert.ErrorContains(t, err, "goal")

	_, err = New(loopConfig(), new(mocks.MockBrowserSession), nil, zap.NewNop())
	assert.ErrorContains(t, err, "LLM client")

	cfg = loopConfig()
	cfg.Agent.Loop.SuccessPredicate = "url +"
	_, err = New(cfg, new(mocks.MockBrowserSession), new(mocks.MockLLMClient), zap.NewNop())
	assert.Error(t, err)
}

func TestNewGeneratesSessionID(t *testing.T) {
	orig := uuidNewString
	uuidNewString = func() string { return "fixed-id" }
	defer func() { uuidNewString = orig }()

	a, err := New(loopConfig(), new(mocks.MockBrowserSession), new(mocks.MockLLMClient), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", a.ID())

	a = newTestAgent(t, loopConfig(), WithSessionID("given"), WithDecider(always(schemas.Finish(""))))
	assert.Equal(t, "given", a.ID())
}

func TestRunFinishOnFirstStep(t *testing.T) {
	exec := &recordingExecutor{}
	a := newTestAgent(t, loopConfig(),
		WithObserver(&pageObserver{}),
		WithDecider(always(schemas.Finish("Jane Doe"))),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusSucceeded, report.Status)
	assert.Equal(t, "Jane Doe", report.Result)
	assert.Equal(t, 1, report.Iterations)
	assert.Empty(t, exec.executed, "finish never reaches the browser")
	assertLedgerConsistent(t, report)
	assert.Equal(t, schemas.ActionFinish, report.History[0].Action.Kind)
	assert.False(t, report.EndedAt.Before(report.StartedAt))
}

func TestRunAbortKeepsReason(t *testing.T) {
	exec := &recordingExecutor{}
	a := newTestAgent(t, loopConfig(),
		WithObserver(&pageObserver{}),
		WithDecider(always(schemas.Abort("login wall"))),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusAborted, report.Status)
	assert.Equal(t, "login wall", report.Reason)
	assert.Equal(t, 1, report.Iterations)
	assert.Empty(t, exec.executed)
	assertLedgerConsistent(t, report)
}

func TestRunStopsAtStepBudget(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.Loop.MaxSteps = 5
	exec := &recordingExecutor{}
	a := newTestAgent(t, cfg,
		WithObserver(&pageObserver{}),
		WithDecider(always(schemas.Wait(10*time.Millisecond))),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Contains(t, report.Reason, string(schemas.ErrKindBudgetExceeded))
	assert.Equal(t, 5, report.Iterations)
	assert.Len(t, exec.executed, 5)
	assertLedgerConsistent(t, report)
}

func TestRunStopsOnRepeatedFailure(t *testing.T) {
	exec := &recordingExecutor{outcome: func(schemas.Action) schemas.Outcome {
		return schemas.Failed(schemas.ErrKindActionFailed, "element is covered")
	}}
	a := newTestAgent(t, loopConfig(),
		WithObserver(&pageObserver{fingerprint: "static"}),
		WithDecider(always(schemas.Click("e1"))),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Contains(t, report.Reason, "failed 3 times in a row")
	assert.Len(t, exec.executed, 3)
	assertLedgerConsistent(t, report)
}

func TestRunRepeatedFailureOnChangingPageContinues(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.Loop.MaxSteps = 6
	exec := &recordingExecutor{outcome: func(schemas.Action) schemas.Outcome {
		return schemas.Failed(schemas.ErrKindActionFailed, "element is covered")
	}}
	a := newTestAgent(t, cfg,
		WithObserver(&pageObserver{}),
		WithDecider(always(schemas.Click("e1"))),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Contains(t, report.Reason, string(schemas.ErrKindBudgetExceeded))
	assert.Len(t, exec.executed, 6)
}

func TestRunReobservesAfterStaleReference(t *testing.T) {
	obs := &pageObserver{}
	decider := &scriptedDecider{script: []decision{
		{action: schemas.Click("e1")},
		{action: schemas.Finish("Jane Doe")},
	}}
	exec := &recordingExecutor{outcome: func(schemas.Action) schemas.Outcome {
		return schemas.Failed(schemas.ErrKindStaleReference, "element e1 is no longer on the page")
	}}
	a := newTestAgent(t, loopConfig(), WithObserver(obs), WithDecider(decider), WithExecutor(exec))

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusSucceeded, report.Status)
	require.Len(t, decider.seen, 2)
	assert.NotEqual(t, decider.seen[0].Fingerprint, decider.seen[1].Fingerprint, "second decision sees a fresh observation")
	require.Len(t, decider.windows[1], 1)
	assert.Equal(t, schemas.ErrKindStaleReference, decider.windows[1][0].Outcome.Kind)
	assertLedgerConsistent(t, report)
}

func TestRunStopsAfterConsecutiveDecisionFailures(t *testing.T) {
	bad := &schemas.DecisionError{Reason: schemas.DecisionInvalidAction, Detail: "no JSON object in reply"}
	exec := &recordingExecutor{}
	a := newTestAgent(t, loopConfig(),
		WithObserver(&pageObserver{}),
		WithDecider(&scriptedDecider{script: []decision{{err: bad}}}),
		WithExecutor(exec),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Contains(t, report.Reason, "decision failed 3 consecutive times")
	assert.Equal(t, 3, report.Iterations)
	assert.Empty(t, exec.executed)
	for _, e := range report.History {
		assert.True(t, e.Synthetic())
		assert.Equal(t, schemas.ErrKindDecision, e.Outcome.Kind)
	}
	assertLedgerConsistent(t, report)
}

func TestRunDecisionStreakResetsOnSuccess(t *testing.T) {
	bad := decision{err: &schemas.DecisionError{Reason: schemas.DecisionModelUnavailable, Detail: "model call failed"}}
	decider := &scriptedDecider{script: []decision{bad, bad, {action: schemas.Scroll(schemas.ScrollDown)}, bad, bad, bad}}
	a := newTestAgent(t, loopConfig(), WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(&recordingExecutor{}))

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Equal(t, 6, report.Iterations)
	assertLedgerConsistent(t, report)
}

func TestRunStopsAfterConsecutiveObservationFailures(t *testing.T) {
	decider := always(schemas.Finish(""))
	a := newTestAgent(t, loopConfig(),
		WithObserver(&pageObserver{fail: func(int) error { return errors.New("target crashed") }}),
		WithDecider(decider),
		WithExecutor(&recordingExecutor{}),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Contains(t, report.Reason, "observation failed 3 consecutive times")
	assert.Zero(t, decider.calls)
	for _, e := range report.History {
		assert.Equal(t, schemas.ErrKindObservation, e.Outcome.Kind)
	}
	assertLedgerConsistent(t, report)
}

func TestRunCancellationAbortsAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &recordingExecutor{}
	decider := always(schemas.Scroll(schemas.ScrollDown))
	decider.hook = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	a := newTestAgent(t, loopConfig(), WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(exec))

	report := a.Run(ctx)

	assert.Equal(t, schemas.StatusAborted, report.Status)
	assert.True(t, strings.HasPrefix(report.Reason, "cancelled"))
	assert.Equal(t, 2, report.Iterations, "the in-flight iteration completes and is recorded")
	assert.Len(t, exec.executed, 2)
	assertLedgerConsistent(t, report)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decider := always(schemas.Finish(""))
	a := newTestAgent(t, loopConfig(), WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(&recordingExecutor{}))

	report := a.Run(ctx)

	assert.Equal(t, schemas.StatusAborted, report.Status)
	assert.Zero(t, report.Iterations)
	assert.Empty(t, report.History)
	assert.Zero(t, decider.calls)
}

func TestRunGateStops(t *testing.T) {
	tests := []struct {
		name   string
		gate   func(cancel context.CancelFunc) gateFunc
		reason string
	}{
		{"declined", func(context.CancelFunc) gateFunc {
			return func(context.Context, schemas.HistoryEntry) (bool, error) { return false, nil }
		}, "operator declined to continue"},
		{"input closed", func(context.CancelFunc) gateFunc {
			return func(context.Context, schemas.HistoryEntry) (bool, error) { return false, io.EOF }
		}, "operator input closed"},
		{"gate error", func(context.CancelFunc) gateFunc {
			return func(context.Context, schemas.HistoryEntry) (bool, error) { return false, errors.New("tty gone") }
		}, "operator gate failed: tty gone"},
		{"interrupted while waiting", func(cancel context.CancelFunc) gateFunc {
			return func(ctx context.Context, _ schemas.HistoryEntry) (bool, error) {
				cancel()
				return false, ctx.Err()
			}
		}, "cancelled: context canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			a := newTestAgent(t, loopConfig(),
				WithObserver(&pageObserver{}),
				WithDecider(always(schemas.Scroll(schemas.ScrollDown))),
				WithExecutor(&recordingExecutor{}),
				WithStepGate(tt.gate(cancel)),
			)

			report := a.Run(ctx)

			assert.Equal(t, schemas.StatusAborted, report.Status)
			assert.Equal(t, tt.reason, report.Reason)
			assert.Equal(t, 1, report.Iterations)
			assertLedgerConsistent(t, report)
		})
	}
}

func TestRunGateNotConsultedAfterTerminalStep(t *testing.T) {
	consulted := 0
	gate := gateFunc(func(context.Context, schemas.HistoryEntry) (bool, error) {
		consulted++
		return true, nil
	})
	decider := &scriptedDecider{script: []decision{
		{action: schemas.Scroll(schemas.ScrollDown)},
		{action: schemas.Finish("done")},
	}}
	a := newTestAgent(t, loopConfig(), WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(&recordingExecutor{}), WithStepGate(gate))

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusSucceeded, report.Status)
	assert.Equal(t, 1, consulted)
}

func TestRunSuccessPredicate(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.Loop.SuccessPredicate = `result != ""`
	decider := &scriptedDecider{script: []decision{
		{action: schemas.Finish("")},
		{action: schemas.Finish("Jane Doe")},
	}}
	a := newTestAgent(t, cfg, WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(&recordingExecutor{}))

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusSucceeded, report.Status)
	assert.Equal(t, "Jane Doe", report.Result)
	require.Len(t, report.History, 2)
	assert.Equal(t, schemas.ErrKindGoalUnverified, report.History[0].Outcome.Kind)
	assert.Equal(t, schemas.OutcomeApplied, report.History[1].Outcome.Status)
}

func TestRunUnverifiedFinishCountsAsRepeat(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.Loop.SuccessPredicate = `url.endsWith("/faculty")`
	a := newTestAgent(t, cfg,
		WithObserver(&pageObserver{fingerprint: "static"}),
		WithDecider(always(schemas.Finish("Jane"))),
		WithExecutor(&recordingExecutor{}),
	)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusFailedGoalUnreachable, report.Status)
	assert.Equal(t, 3, report.Iterations)
}

func TestRunRecordsSteps(t *testing.T) {
	rec := &labelRecorder{}
	decider := &scriptedDecider{script: []decision{
		{action: schemas.Scroll(schemas.ScrollDown)},
		{err: &schemas.DecisionError{Reason: schemas.DecisionInvalidAction, Detail: "bad"}},
		{action: schemas.Finish("done")},
	}}
	a := newTestAgent(t, loopConfig(), WithObserver(&pageObserver{}), WithDecider(decider), WithExecutor(&recordingExecutor{}), WithRecorder(rec))

	a.Run(context.Background())

	assert.Equal(t, []string{"0:start", "1:scroll", "2:decision_error", "3:finish", "3:final"}, rec.labels)
}

func TestRunStartURLFailureIsFirstEntry(t *testing.T) {
	cfg := loopConfig()
	cfg.Agent.StartURL = "https://www.example.edu/"
	browser := new(mocks.MockBrowserSession)
	browser.On("Navigate", mock.Anything, "https://www.example.edu/").
		Return(schemas.NewBrowserError(schemas.ErrKindNavigationBlocked, "navigate", errors.New("net::ERR_NAME_NOT_RESOLVED")))

	obs := &pageObserver{}
	a, err := New(cfg, browser, nil, zaptest.NewLogger(t),
		WithObserver(obs),
		WithDecider(always(schemas.Finish("Jane"))),
		WithExecutor(&recordingExecutor{}),
	)
	require.NoError(t, err)

	report := a.Run(context.Background())

	assert.Equal(t, schemas.StatusSucceeded, report.Status)
	require.Len(t, report.History, 2)
	assert.Equal(t, schemas.ErrKindObservation, report.History[0].Outcome.Kind)
	assert.Contains(t, report.History[0].Outcome.Detail, "loading start url")
	assert.Equal(t, 1, obs.calls)
	browser.AssertExpectations(t)
}

// TestRunLedgerMatchesIterations drives the loop with random mixes of
// outcomes and checks the ledger and status rules hold for every script.
func TestRunLedgerMatchesIterations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("one entry per iteration and always terminal within budget", prop.ForAll(
		func(script []int, maxSteps int) bool {
			cfg := loopConfig()
			cfg.Agent.Loop.MaxSteps = maxSteps

			code := func(call int) int {
				if len(script) == 0 {
					return 0
				}
				return script[(call-1)%len(script)]
			}
			obs := &pageObserver{fingerprint: "static"}
			obs.fail = func(call int) error {
				if code(call) == 5 {
					return errors.New("snapshot failed")
				}
				return nil
			}
			decider := deciderFunc(func(schemas.Observation) (schemas.Action, error) {
				switch code(obs.calls) {
				case 0:
					return schemas.Scroll(schemas.ScrollDown), nil
				case 1:
					return schemas.Click("e1"), nil
				case 2:
					return schemas.Action{}, &schemas.DecisionError{Reason: schemas.DecisionInvalidAction, Detail: "bad"}
				case 3:
					return schemas.Finish("x"), nil
				}
				return schemas.Abort("stop"), nil
			})
			exec := &recordingExecutor{outcome: func(a schemas.Action) schemas.Outcome {
				if a.Kind == schemas.ActionClick {
					return schemas.Failed(schemas.ErrKindActionFailed, "covered")
				}
				return schemas.Applied("")
			}}

			a, err := New(cfg, new(mocks.MockBrowserSession), nil, zap.NewNop(),
				WithObserver(obs), WithDecider(decider), WithExecutor(exec))
			if err != nil {
				return false
			}
			report := a.Run(context.Background())

			if len(report.History) != report.Iterations || !report.Status.Terminal() {
				return false
			}
			if report.Iterations < 1 || report.Iterations > maxSteps {
				return false
			}
			for i, e := range report.History {
				if e.Step != i+1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}
