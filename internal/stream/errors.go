package stream

import (
	"errors"
	"fmt"
)

// ErrEmptyResponseBody means the backend accepted the request but returned
// no body to stream.
var ErrEmptyResponseBody = errors.New("response body is missing")

// TransportUnreachableError means the request never got a response.
type TransportUnreachableError struct {
	URL string
	Err error
}

func (e *TransportUnreachableError) Error() string {
	return fmt.Sprintf("backend unreachable at %s: %v", e.URL, e.Err)
}

func (e *TransportUnreachableError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response. Body holds the start of the response
// body for logs.
type BackendError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend returned %d %s: %s", e.Status, e.StatusText, e.Body)
}

// MalformedFrameError is a data frame whose payload is not valid JSON. It is
// logged and the frame skipped.
type MalformedFrameError struct {
	Frame string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %q", e.Frame)
}

// UserMessage returns the short cause shown to the user for a request
// failure, or "" when err is not a request failure.
func UserMessage(err error) string {
	var unreachable *TransportUnreachableError
	var backend *BackendError
	switch {
	case errors.As(err, &unreachable):
		return "Unable to reach the LLM service. Check that it is running and that the worker has permission to access it."
	case errors.As(err, &backend):
		return fmt.Sprintf("API Error %d: %s", backend.Status, backend.StatusText)
	case errors.Is(err, ErrEmptyResponseBody):
		return "API response body is missing."
	default:
		return ""
	}
}
