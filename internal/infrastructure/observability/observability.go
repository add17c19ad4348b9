// Package observability assembles the service's Observability from the zap,
// Prometheus and OpenTelemetry adapters.
package observability

import (
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-fulfillment/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Config struct {
	ServiceName string
	Logger      *zap.Logger
	// Registerer receives the metric vectors; nil means the Prometheus default registry.
	Registerer prometheus.Registerer
	Namespace  string
}

// Provider is the process-wide Observability handed to every component.
type Provider struct {
	tracer  observability.Tracer
	logger  observability.Logger
	metrics *instruments
}

var _ observability.Observability = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	counters, histograms := prometrics.Instruments(prometrics.New(cfg.Registerer, cfg.Namespace, ""))
	return &Provider{
		tracer:  oteltrace.New(cfg.ServiceName),
		logger:  zaplogger.New(cfg.Logger),
		metrics: &instruments{counters: counters, histograms: histograms},
	}
}

func (p *Provider) Tracer() observability.Tracer   { return p.tracer }
func (p *Provider) Logger() observability.Logger   { return p.logger }
func (p *Provider) Metrics() observability.Metrics { return p.metrics }

// instruments resolves metric keys to registered vectors. Unknown keys get a
// no-op so a missing registration never panics a request path.
type instruments struct {
	counters   map[observability.MetricKey]observability.Counter
	histograms map[observability.MetricKey]observability.Histogram
}

func (m *instruments) Counter(name observability.MetricKey) observability.Counter {
	if c, ok := m.counters[name]; ok {
		return c
	}
	return observability.NopCounter()
}

func (m *instruments) Histogram(name observability.MetricKey) observability.Histogram {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	return observability.NopHistogram()
}
