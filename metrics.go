package apiclient

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Attempt outcomes recorded in apiclient_attempts_total.
const (
	outcomeSuccess   = "success"
	outcomeHTTPError = "http_error"
	outcomeTimeout   = "timeout"
	outcomeNetwork   = "network_error"
	outcomeCanceled  = "canceled"
)

type metrics struct {
	attempts *prometheus.CounterVec
	requests *prometheus.CounterVec
}

// newMetrics creates the executor collectors and registers them with reg.
// Collectors already registered by another executor on the same registry are reused.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiclient_attempts_total",
			Help: "Physical HTTP attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apiclient_requests_total",
			Help: "Executor calls by method and result code.",
		}, []string{"method", "code"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func (m *metrics) attempt(method, outcome string) {
	m.attempts.WithLabelValues(method, outcome).Inc()
}

func (m *metrics) request(method, code string) {
	m.requests.WithLabelValues(method, code).Inc()
}
