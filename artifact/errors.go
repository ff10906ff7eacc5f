package artifact

import (
	"errors"
	"fmt"
	"time"
)

// Code is a machine-readable failure class.
type Code string

const (
	CodeInvalidURL      Code = "INVALID_URL"
	CodeInvalidSelector Code = "INVALID_SELECTOR"
	CodeInvalidViewport Code = "INVALID_VIEWPORT"
	CodeInvalidOptions  Code = "INVALID_OPTIONS"
	CodeTimeout         Code = "TIMEOUT"
	CodeNetwork         Code = "NETWORK_ERROR"
	CodeElementNotFound Code = "ELEMENT_NOT_FOUND"
	CodeBrowser         Code = "BROWSER_ERROR"
	CodeCaptureFailed   Code = "CAPTURE_FAILED"
	CodeDecodeFailed    Code = "DECODE_FAILED"
	CodeProcessing      Code = "PROCESSING_ERROR"
)

// Retryable reports whether a capture failure of this class may succeed on
// a new attempt. Only input-shape failures are deterministic; anything that
// happens after validation, including an undecodable raster from the
// browser, is a runtime failure.
func (c Code) Retryable() bool {
	switch c {
	case CodeInvalidURL, CodeInvalidSelector, CodeInvalidViewport, CodeInvalidOptions:
		return false
	}
	return true
}

// Error is the structured failure carried by result envelopes.
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewError builds an Error stamped with the current time.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
