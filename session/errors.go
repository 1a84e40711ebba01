package session

import "github.com/pkg/errors"

// Errors surfaced by the session lifecycle.
var (
	// Store errors
	ErrNoSession      = errors.New("no session")
	ErrPartialSession = errors.New("partial session: access and refresh tokens must be stored together")

	// Grant errors
	ErrInvalidGrant   = errors.New("invalid grant: token pair or user missing")
	ErrRoleNotAllowed = errors.New("role not permitted on this surface")

	// Refresh errors
	ErrSessionReplaced = errors.New("session replaced while refresh was in flight")
)

// StatusCoder is implemented by backend errors that carry an HTTP status
// code, which the lifecycle uses to tell definitive rejections apart from
// transient transport failures.
type StatusCoder interface {
	StatusCode() int
}

// rejected reports whether err is a definitive backend rejection (a 4xx
// response). Anything else, network failures included, is treated as
// transient and never destroys stored credentials.
func rejected(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 400 && code < 500
	}
	return false
}
