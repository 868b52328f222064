// Package resource provides a typed, read-only client for one JSON collection endpoint.
//
// The backend does not identify its records, so each record receives a synthetic id
// derived from its position in the response: "{name}-1", "{name}-2", and so on. Ids are
// a pure function of position. They are not stable across fetches if the backend
// reorders or changes the set.
package resource

import (
	"context"
	"log/slog"
	"strconv"

	apiclient "github.com/JohnPlummer/jp-go-apiclient"
)

// BuildFunc converts a wire record into the application record carrying id.
type BuildFunc[W, R any] func(id string, w W) R

// Client fetches one resource collection through an apiclient.Doer.
// Nothing is cached; every call re-fetches the full set.
type Client[W, R any] struct {
	doer         apiclient.Doer
	name         string
	path         string
	errorContext string
	build        BuildFunc[W, R]
	logger       *slog.Logger
}

type options struct {
	errorContext string
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithErrorContext sets the prefix added to errors from FetchAll.
// Default: "Error getting {name}".
func WithErrorContext(prefix string) Option {
	return func(o *options) {
		o.errorContext = prefix
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a client for the collection at path, naming ids after name.
func New[W, R any](doer apiclient.Doer, name, path string, build BuildFunc[W, R], opts ...Option) *Client[W, R] {
	o := options{
		errorContext: "Error getting " + name,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Client[W, R]{
		doer:         doer,
		name:         name,
		path:         path,
		errorContext: o.errorContext,
		build:        build,
		logger:       o.logger,
	}
}

// Name returns the resource name used in ids.
func (c *Client[W, R]) Name() string {
	return c.name
}

// Path returns the endpoint path.
func (c *Client[W, R]) Path() string {
	return c.path
}

// ID returns the synthetic id for the record at the 0-based index.
func ID(name string, index int) string {
	return name + "-" + strconv.Itoa(index+1)
}

// FetchAll returns every record in response order. Fields are copied as decoded;
// missing fields keep their zero values. An empty array yields an empty, non-nil slice.
//
// APIErrors are re-raised with the client's error context prepended and their
// status and code preserved. Any other failure becomes UNKNOWN_ERROR.
func (c *Client[W, R]) FetchAll(ctx context.Context) ([]R, error) {
	items, err := apiclient.GetJSON[[]W](ctx, c.doer, c.path)
	if err != nil {
		if apiErr, ok := apiclient.AsAPIError(err); ok {
			return nil, apiErr.WithContext(c.errorContext)
		}
		c.logger.Error("unexpected failure fetching resource",
			"resource", c.name,
			"error", err)
		return nil, apiclient.NewAPIError("Unknown "+lowerFirst(c.errorContext), 0, apiclient.CodeUnknownError)
	}

	records := make([]R, len(items))
	for i, item := range items {
		records[i] = c.build(ID(c.name, i), item)
	}

	c.logger.Debug("fetched resource",
		"resource", c.name,
		"count", len(records))

	return records, nil
}

// Find fetches all records and returns the first one matching match, or nil when
// none does. Not finding a record is not an error.
func (c *Client[W, R]) Find(ctx context.Context, match func(R) bool) (*R, error) {
	records, err := c.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if match(records[i]) {
			return &records[i], nil
		}
	}
	return nil, nil
}

func lowerFirst(s string) string {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return s
	}
	return string(s[0]+'a'-'A') + s[1:]
}
