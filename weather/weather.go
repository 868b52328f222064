// Package weather is the typed client for the weather forecast endpoint.
package weather

import (
	"context"
	"log/slog"
	"math"
	"net/http"

	apiclient "github.com/JohnPlummer/jp-go-apiclient"
	"github.com/JohnPlummer/jp-go-apiclient/resource"
)

const (
	// DefaultPath is the forecast endpoint path.
	DefaultPath = "/WeatherForecast"

	// ResourceName prefixes synthetic record ids.
	ResourceName = "weather"
)

// Forecast is one forecast entry as served by the backend.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Record is a Forecast with its synthetic id ("weather-1", "weather-2", ...).
// The id reflects the record's position in one response only.
type Record struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// Stats summarizes one fetched forecast set.
type Stats struct {
	AverageTemperatureC float64 `json:"averageTemperatureC"`
	AverageTemperatureF float64 `json:"averageTemperatureF"`
	MinTemperatureC     int     `json:"minTemperatureC"`
	MaxTemperatureC     int     `json:"maxTemperatureC"`
	TotalDays           int     `json:"totalDays"`
	MostCommonSummary   string  `json:"mostCommonSummary"`
}

// Client reads forecasts through an apiclient.Doer.
type Client struct {
	forecasts *resource.Client[Forecast, Record]
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*config)

type config struct {
	path   string
	logger *slog.Logger
}

// WithPath overrides DefaultPath.
func WithPath(path string) Option {
	return func(c *config) {
		c.path = path
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewClient creates a forecast client backed by doer, typically an *apiclient.Executor.
func NewClient(doer apiclient.Doer, opts ...Option) *Client {
	cfg := config{path: DefaultPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &Client{
		forecasts: resource.New(doer, ResourceName, cfg.path, newRecord,
			resource.WithErrorContext("Error getting weather forecast"),
			resource.WithLogger(cfg.logger),
		),
		logger: cfg.logger,
	}
}

func newRecord(id string, f Forecast) Record {
	return Record{
		ID:           id,
		Date:         f.Date,
		TemperatureC: f.TemperatureC,
		TemperatureF: f.TemperatureF,
		Summary:      f.Summary,
	}
}

// FetchAll returns the forecast in response order.
func (c *Client) FetchAll(ctx context.Context) ([]Record, error) {
	return c.forecasts.FetchAll(ctx)
}

// FetchByDate returns the first record whose date equals date exactly, or nil.
func (c *Client) FetchByDate(ctx context.Context, date string) (*Record, error) {
	return c.forecasts.Find(ctx, func(r Record) bool {
		return r.Date == date
	})
}

// Stats fetches the forecast and summarizes it. An empty forecast fails with
// NO_DATA (status 404).
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	records, err := c.FetchAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats, err := Summarize(records)
	if err != nil {
		return Stats{}, err
	}

	c.logger.Debug("computed forecast stats",
		"days", stats.TotalDays,
		"average_c", stats.AverageTemperatureC)

	return stats, nil
}

// Summarize computes Stats over records without fetching.
//
// Averages are rounded half away from zero to one decimal; the Fahrenheit average
// is derived from the unrounded Celsius mean. Ties for the most common summary go
// to the summary seen first.
func Summarize(records []Record) (Stats, error) {
	if len(records) == 0 {
		return Stats{}, apiclient.NewAPIError("No data available", http.StatusNotFound, apiclient.CodeNoData)
	}

	sum := 0
	minC, maxC := records[0].TemperatureC, records[0].TemperatureC
	for _, r := range records {
		sum += r.TemperatureC
		minC = min(minC, r.TemperatureC)
		maxC = max(maxC, r.TemperatureC)
	}
	meanC := float64(sum) / float64(len(records))

	return Stats{
		AverageTemperatureC: Round1(meanC),
		AverageTemperatureF: Round1(CelsiusToFahrenheit(meanC)),
		MinTemperatureC:     minC,
		MaxTemperatureC:     maxC,
		TotalDays:           len(records),
		MostCommonSummary:   mostCommon(records),
	}, nil
}

// CelsiusToFahrenheit converts c to Fahrenheit.
func CelsiusToFahrenheit(c float64) float64 {
	return c*9/5 + 32
}

// Round1 rounds v to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// mostCommon returns the most frequent summary, first occurrence winning ties.
func mostCommon(records []Record) string {
	counts := make(map[string]int, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if _, seen := counts[r.Summary]; !seen {
			order = append(order, r.Summary)
		}
		counts[r.Summary]++
	}

	best := order[0]
	for _, s := range order[1:] {
		if counts[s] > counts[best] {
			best = s
		}
	}
	return best
}
