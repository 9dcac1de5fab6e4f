package ledger

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the canonical form of every failure crossing the ledger
// boundary. External errors of any shape are converted into it before
// internal logic inspects them; callers branch on Fatal rather than on
// error identity.
type Error struct {
	Message    string
	StatusCode int
	Fatal      bool
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ledger error: %s", e.Message)
}

// IsFatal reports whether err carries a fatal ledger error: one that
// must abort the current phase and propagate without further writes.
func IsFatal(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Fatal
}

// fatalStatus classifies HTTP status codes that should never be
// retried or worked around: auth, validation, not-found, rate limit,
// and server errors.
func fatalStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// normalize converts any error returned while talking to the ledger
// into a *Error. HTTP status classification happens here and nowhere
// else.
func normalize(err error, status int) *Error {
	if err == nil && status == 0 {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Message:    msg,
		StatusCode: status,
		Fatal:      status != 0 && fatalStatus(status),
	}
}
