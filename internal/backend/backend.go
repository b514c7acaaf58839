// Package backend implements the network clients for the three
// model-serving backends: text generation, speech synthesis, and
// speech recognition. The clients are stateless; they assume the
// supervisor (or the operator) has already made the backends
// reachable.
package backend

import (
	"fmt"
	"net/http"

	"github.com/voxhaus/voxd/internal/httpkit"
)

// Backend role names, used in errors and logs.
const (
	RoleGeneration  = "generation"
	RoleSynthesis   = "synthesis"
	RoleRecognition = "recognition"
)

// maxErrorBody bounds how much of a backend error response is captured
// for diagnostics.
const maxErrorBody = 4 * 1024

// Error reports a failed backend call: either the backend answered
// with a non-success status, or it was unreachable. The gateway relays
// Body to the client so the operator can see the backend's own
// diagnostics.
type Error struct {
	Backend string // which backend failed
	Status  int    // HTTP status from the backend; 0 for transport failures
	Body    string // raw diagnostic body, possibly empty
	Err     error  // underlying transport error; nil for status failures
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend unreachable: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s backend returned %d: %s", e.Backend, e.Status, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// statusError builds an *Error from a non-success response, consuming
// the body.
func statusError(role string, resp *http.Response) *Error {
	return &Error{
		Backend: role,
		Status:  resp.StatusCode,
		Body:    httpkit.ReadErrorBody(resp.Body, maxErrorBody),
	}
}

// transportError builds an *Error for a request that never produced a
// response.
func transportError(role string, err error) *Error {
	return &Error{Backend: role, Err: err}
}
