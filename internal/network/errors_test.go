package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"context canceled", context.Canceled, ClassCanceled},
		{"deadline exceeded", context.DeadlineExceeded, ClassCanceled},
		{"wrapped cancel", fmt.Errorf("send: %w", context.Canceled), ClassCanceled},
		{"bad request", &APIError{Status: 400}, ClassPermanent},
		{"not found", &APIError{Status: 404, Code: "conversation:error:not-found"}, ClassPermanent},
		{"conflict", &APIError{Status: 409}, ClassPermanent},
		{"request timeout", &APIError{Status: 408}, ClassTransient},
		{"rate limited", &APIError{Status: 429}, ClassTransient},
		{"server error", &APIError{Status: 500}, ClassTransient},
		{"bad gateway", &APIError{Status: 502}, ClassTransient},
		{"dial failure", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ClassTransient},
		{"plain error", errors.New("boom"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyUnwrapsAPIError(t *testing.T) {
	err := fmt.Errorf("fetch conversation: %w", &APIError{Status: 403})
	if got := Classify(err); got != ClassPermanent {
		t.Errorf("Classify = %v, want permanent", got)
	}
}

func TestAPIErrorString(t *testing.T) {
	err := &APIError{Status: 404, Code: "event:error:not-found", Message: "no such event"}
	want := "api: 404 event:error:not-found: no such event"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	bare := &APIError{Status: 500}
	if bare.Error() != "api: 500 Internal Server Error" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
