// Package apiclient provides a JSON API client with per-attempt timeouts, linear-backoff
// retries and a single typed error (*APIError) for every failure path.
//
// The retry engine is generic over request and response types so the same machinery
// drives the HTTP Executor, resource clients and test doubles alike.
package apiclient

import (
	"context"
)

// ResilientClient defines a generic interface for executing requests with retry and circuit breaker support.
// Type parameters Req and Resp can be any types; the Executor uses it internally with
// a per-attempt request descriptor and a fully-read *Response.
//
// Example:
//
//	type echo struct{}
//
//	func (echo) Execute(ctx context.Context, req string) (string, error) {
//	    return req, nil
//	}
//
//	wrapped := apiclient.NewRetryWrapper[string, string](
//	    echo{},
//	    apiclient.WithMaxAttempts(4),
//	    apiclient.WithLinearBackoff(time.Second),
//	)
type ResilientClient[Req, Resp any] interface {
	// Execute performs a request and returns a response or error.
	// The context should be used to control timeouts and cancellation.
	Execute(ctx context.Context, req Req) (Resp, error)
}

// ClientFunc adapts an ordinary function to the ResilientClient interface.
type ClientFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Execute calls f(ctx, req).
func (f ClientFunc[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}
