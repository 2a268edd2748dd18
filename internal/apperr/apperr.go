// Package apperr classifies failures raised by the prober and the page check
// engine into a small, closed taxonomy.
package apperr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the classification of a failure.
type Kind string

const (
	Timeout      Kind = "timeout"
	Unreachable  Kind = "unreachable"
	InvalidInput Kind = "invalid_input"
	Unclassified Kind = "unclassified"
)

// Error is a classified failure of a single operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap classifies err and wraps it. A nil err yields nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// Classify maps an arbitrary error onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Unreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Unreachable
	}

	// Chrome reports network failures as net::ERR_* error texts. Only the
	// error code is inspected; the rest of the message may echo the URL.
	if code := chromeErrorCode(err.Error()); code != "" {
		if strings.HasSuffix(code, "TIMED_OUT") {
			return Timeout
		}
		return Unreachable
	}
	return Unclassified
}

// chromeErrorCode extracts the ERR_* code following "net::" in msg.
func chromeErrorCode(msg string) string {
	i := strings.Index(msg, "net::ERR_")
	if i < 0 {
		return ""
	}
	code := msg[i+len("net::"):]
	if end := strings.IndexFunc(code, func(r rune) bool {
		return !(r == '_' || (r >= 'A' && r <= 'Z'))
	}); end >= 0 {
		code = code[:end]
	}
	return code
}
