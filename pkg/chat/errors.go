package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrorKind classifies why an attempt failed.
type ErrorKind string

const (
	// KindConnection means the request never completed (refused, DNS, aborted).
	KindConnection ErrorKind = "connection"
	// KindServer means the service answered with a non-success status.
	KindServer ErrorKind = "server"
	// KindUnstreamable means a success status arrived without a readable body.
	KindUnstreamable ErrorKind = "unstreamable"
	// KindStream means the body failed after the stream had started.
	KindStream ErrorKind = "stream"
)

// StreamError carries the failure of one attempt together with the
// correlation id the service assigned to it, when known.
type StreamError struct {
	Kind      ErrorKind
	Message   string
	Status    int
	RequestID string
	Err       error
}

func (e *StreamError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	switch {
	case e.Status > 0 && e.RequestID != "":
		fmt.Fprintf(&b, " (status=%d, request_id=%s)", e.Status, e.RequestID)
	case e.Status > 0:
		fmt.Fprintf(&b, " (status=%d)", e.Status)
	case e.RequestID != "":
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	return b.String()
}

func (e *StreamError) Unwrap() error { return e.Err }

var requestIDPattern = regexp.MustCompile(`request_id=([^\s,)]+)`)

// ParseRequestID extracts the token following "request_id=" from text.
func ParseRequestID(text string) string {
	m := requestIDPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// RequestIDFromError returns the correlation id attached to err. The
// structured field wins; the text pattern covers errors that were flattened
// to strings before reaching us.
func RequestIDFromError(err error) string {
	if err == nil {
		return ""
	}
	var se *StreamError
	if errors.As(err, &se) && se.RequestID != "" {
		return se.RequestID
	}
	return ParseRequestID(err.Error())
}

// KindOf returns the failure kind of err, or "" when err is not a StreamError.
func KindOf(err error) ErrorKind {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
