// browser/dom/classify.go
package dom

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

// Classify wraps err in a *schemas.BrowserError whose kind is derived from
// the error chain and Chrome's net error text. Nil stays nil and errors that
// are already classified pass through unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *schemas.BrowserError
	if errors.As(err, &be) {
		return err
	}
	return schemas.NewBrowserError(kindFor(err), op, err)
}

func kindFor(err error) schemas.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.ErrKindTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR_ACCESS_DENIED"),
		strings.Contains(msg, "net::ERR_BLOCKED_BY_ADMINISTRATOR"):
		return schemas.ErrKindPermissionDenied
	case strings.Contains(msg, "net::ERR_TIMED_OUT"),
		strings.Contains(msg, "net::ERR_CONNECTION_TIMED_OUT"):
		return schemas.ErrKindTimeout
	case strings.Contains(msg, "net::ERR_"):
		return schemas.ErrKindNavigationBlocked
	case strings.Contains(msg, "context deadline exceeded"):
		return schemas.ErrKindTimeout
	}
	return schemas.ErrKindActionFailed
}
