package telemetry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Renewal outcomes, used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector captures connection lifecycle events.
//
// Implementations should be inexpensive to call because hooks run inline
// with connection construction and renewal.
type Collector interface {
	IncConnectionsBuilt()
	IncConnectionsClosed()
	IncRenewal(outcome string)
	SetRetired(n int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncConnectionsBuilt()  {}
func (noopCollector) IncConnectionsClosed() {}
func (noopCollector) IncRenewal(string)     {}
func (noopCollector) SetRetired(int)        {}

// PrometheusCollector exposes connection lifecycle metrics via Prometheus.
type PrometheusCollector struct {
	built    prometheus.Counter
	closed   prometheus.Counter
	renewals *prometheus.CounterVec
	retired  prometheus.Gauge
}

// register registers c with reg, or returns the collector that is already
// registered under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
	}
	var zero T
	return zero, err
}

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Calling it again with the same registerer reuses the metrics
// registered the first time.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	built, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbase_template_connections_built_total",
		Help: "Number of store connections built, including renewals.",
	}))
	if err != nil {
		return nil, err
	}

	closed, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hbase_template_connections_closed_total",
		Help: "Number of store connections closed.",
	}))
	if err != nil {
		return nil, err
	}

	renewals, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hbase_template_connection_renewals_total",
		Help: "Number of connection renewals by outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}

	retired, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hbase_template_retired_connections",
		Help: "Number of retired connections waiting to be closed.",
	}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		built:    built,
		closed:   closed,
		renewals: renewals,
		retired:  retired,
	}, nil
}

// IncConnectionsBuilt counts a newly built connection.
func (p *PrometheusCollector) IncConnectionsBuilt() {
	if p == nil {
		return
	}
	p.built.Inc()
}

// IncConnectionsClosed counts a closed connection.
func (p *PrometheusCollector) IncConnectionsClosed() {
	if p == nil {
		return
	}
	p.closed.Inc()
}

// IncRenewal counts a renewal attempt with the given outcome.
func (p *PrometheusCollector) IncRenewal(outcome string) {
	if p == nil {
		return
	}
	p.renewals.WithLabelValues(outcome).Inc()
}

// SetRetired records the length of the retirement queue.
func (p *PrometheusCollector) SetRetired(n int) {
	if p == nil {
		return
	}
	p.retired.Set(float64(n))
}
