package ability

import "fmt"

// Error is a structured failure an ability (or an execution hook) can return.
// The gateway maps it to an HTTP response using the embedded status, keeping
// the code and message intact.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError creates a structured ability error. A zero status defaults to 500
// when the gateway builds the response.
func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status for the error, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return 500
	}
	return e.Status
}
