package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrMalformedResponse marks a 2xx response whose body does not honor the
// backend contract. Callers treat it like any other failed call; nothing
// gets persisted from a malformed grant.
var ErrMalformedResponse = errors.New("malformed api response")

// Error is a definitive answer from the backend: it was reached, and it said
// no. Transport failures are ordinary wrapped errors, never *Error.
type Error struct {
	Status  int    // HTTP status code
	Code    string // machine-readable code, when the backend sent one
	Message string // human-readable description
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// StatusCode reports the HTTP status, which the session lifecycle uses to
// tell definitive rejections from transient failures.
func (e *Error) StatusCode() int { return e.Status }

func decodeError(status int, body []byte) *Error {
	apiErr := &Error{Status: status}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
