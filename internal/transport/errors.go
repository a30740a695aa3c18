package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-200 answer from a sync server.
type StatusError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("sync server returned %d %s", e.Code, http.StatusText(e.Code))
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// IsStatus reports whether err wraps a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// errorBody is the JSON body of every non-200 server answer.
type errorBody struct {
	Error string `json:"error"`
}
