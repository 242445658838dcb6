package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrBrowserUnavailable is returned when browser mode is requested but no
// headless browser can be started.
var ErrBrowserUnavailable = errors.New("scraper: headless browser unavailable")

// Failure kinds. They label the errors metric and the run summary.
const (
	KindTimeout     = "timeout"
	KindConnection  = "connection"
	KindForbidden   = "forbidden"
	KindNotFound    = "not_found"
	KindRateLimited = "rate_limited"
	KindHTTPStatus  = "http_status"
	KindNavigation  = "navigation"
	KindCanceled    = "canceled"
	KindOther       = "other"
	KindUnknown     = "unknown"
)

// FetchError is a classified failure to fetch a listing page or a cover.
type FetchError struct {
	Kind   string
	Status int // zero when no response arrived
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

var statusKinds = map[int]string{
	http.StatusForbidden:       KindForbidden,
	http.StatusNotFound:        KindNotFound,
	http.StatusTooManyRequests: KindRateLimited,
}

// classifyError wraps a transport error or an HTTP error status in a
// FetchError. Success statuses with no error yield nil; unrecognised
// errors are returned unchanged.
func classifyError(err error, status int) error {
	var (
		netErr net.Error
		opErr  *net.OpError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &FetchError{Kind: KindTimeout, Status: status, Err: err}
	case errors.As(err, &opErr):
		return &FetchError{Kind: KindConnection, Err: err}
	case status >= http.StatusBadRequest:
		if err == nil {
			err = errors.New(http.StatusText(status))
		}
		kind, ok := statusKinds[status]
		if !ok {
			kind = KindHTTPStatus
		}
		return &FetchError{Kind: kind, Status: status, Err: err}
	}
	return err
}

// errorKind returns the label recorded for err.
func errorKind(err error) string {
	if err == nil {
		return KindUnknown
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindOther
}
