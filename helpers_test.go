package apiclient_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

// mockClient implements ResilientClient for testing
type mockClient struct {
	executeFunc func(ctx context.Context, req string) (string, error)
	callCount   atomic.Int32
}

func (m *mockClient) Execute(ctx context.Context, req string) (string, error) {
	m.callCount.Add(1)
	return m.executeFunc(ctx, req)
}

func (m *mockClient) getCallCount() int {
	return int(m.callCount.Load())
}

// roundTripperFunc lets tests script the transport under an Executor.
type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
