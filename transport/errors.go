package transport

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4 << 10

// Error reports a connection that could not be established or that dropped unexpectedly.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError reports a non-success HTTP status returned by the upstream server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream error: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("upstream error: %d %s", e.Code, e.Body)
}

// NewStatusError drains at most a few kilobytes of the response body into a StatusError.
// The caller still owns the body.
func NewStatusError(resp *http.Response) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	if resp.Body != nil {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se.Body = strings.TrimSpace(string(b))
	}
	return se
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
