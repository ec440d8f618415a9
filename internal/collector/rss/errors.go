package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrorType classifies a feed fetch failure.
type ErrorType string

// Feed fetch failure classes.
const (
	ErrTimeout      ErrorType = "TIMEOUT"
	ErrDNS          ErrorType = "DNS_ERROR"
	ErrConnection   ErrorType = "CONNECTION_ERROR"
	ErrHTTP         ErrorType = "HTTP_ERROR"
	ErrParse        ErrorType = "PARSE_ERROR"
	ErrRedirectLoop ErrorType = "REDIRECT_LOOP"
	ErrHTMLResponse ErrorType = "HTML_RESPONSE"
	ErrUnknown      ErrorType = "UNKNOWN"
)

var errRedirectLoop = errors.New("redirect loop")

// FetchError is a classified feed failure.
type FetchError struct {
	Type       ErrorType
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (%d): %v", e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed. DNS failures,
// HTML pages and 404s are permanent for the current run.
func (e *FetchError) Retryable() bool {
	switch e.Type {
	case ErrDNS, ErrHTMLResponse:
		return false
	case ErrHTTP:
		return e.StatusCode != http.StatusNotFound
	}
	return true
}

// classify maps a transport error onto an ErrorType.
func classify(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	var (
		dnsErr *net.DNSError
		netErr net.Error
		opErr  *net.OpError
	)
	switch {
	case errors.Is(err, errRedirectLoop):
		return &FetchError{Type: ErrRedirectLoop, Err: err}
	case errors.As(err, &dnsErr):
		return &FetchError{Type: ErrDNS, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Type: ErrTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &opErr):
		return &FetchError{Type: ErrConnection, Err: err}
	}
	return &FetchError{Type: ErrUnknown, Err: err}
}
