package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the conversation service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
}

// Class sorts a failure by what the caller should do about it.
type Class int

const (
	// ClassTransient failures are worth retrying: network trouble,
	// timeouts, rate limits, server-side errors.
	ClassTransient Class = iota
	// ClassPermanent failures will fail the same way every time.
	ClassPermanent
	// ClassCanceled means the caller's context ended; the work itself
	// was neither rejected nor broken.
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify decides how a collaborator error should be handled. Anything
// not provably permanent is treated as transient so a flaky link never
// deadletters work.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusRequestTimeout, apiErr.Status == http.StatusTooManyRequests:
			return ClassTransient
		case apiErr.Status >= 400 && apiErr.Status < 500:
			return ClassPermanent
		default:
			return ClassTransient
		}
	}
	return ClassTransient
}
