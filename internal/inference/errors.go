package inference

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors for malformed completion payloads
var (
	ErrNoChoices        = errors.New("response contained no choices")
	ErrMalformedPayload = errors.New("malformed completion payload")
)

// maxBodyExcerpt bounds how much of an error body is kept
const maxBodyExcerpt = 512

// RequestError is a transport-level failure: connection refused, timeout,
// cancelled context, unreadable body
type RequestError struct {
	Operation string
	URL       string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response from the server
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed (HTTP %d)", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s failed (HTTP %d): %s", e.Operation, e.StatusCode, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == code
	}
	return false
}

// excerpt truncates body to at most maxBodyExcerpt bytes on a rune boundary
func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		cut := maxBodyExcerpt
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		return string(body[:cut]) + "..."
	}
	return string(body)
}
