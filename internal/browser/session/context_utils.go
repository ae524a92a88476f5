// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of primary (for
// chromedp, the CDP target) and is canceled when either primary or secondary
// is done. Callers must call the returned cancel function.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps the parent's values and drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context with ctx's values that is never canceled. The agent
// loop runs in-flight browser and model calls on detached contexts with their
// own timeouts, so an interrupt is only observed between iterations.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
