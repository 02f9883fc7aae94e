package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

// FetchError reports that the raw content of a feed could not be retrieved.
type FetchError struct {
	Source model.FeedSource
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch feed %s (%s): %v", e.Source.ID, e.Source.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

func (e *FetchError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Cause, &ne) && ne.Timeout()
}

// Retryable reports whether another attempt may succeed. Client errors (4xx other than 408 and 429) will not.
func (e *FetchError) Retryable() bool {
	var se *StatusError
	if !errors.As(e.Cause, &se) {
		return true
	}
	return se.Code >= 500 || se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests
}

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// ParseError reports content that cannot be recognised as a feed at all.
type ParseError struct {
	Source model.FeedSource
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.Source.ID, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
