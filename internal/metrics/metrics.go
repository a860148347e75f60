// Package metrics provides the Prometheus instrumentation for the
// scoring engine. The collector is explicitly owned and injected, not
// module-level state, so tests can run isolated registries.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns the engine's Prometheus metrics and the running
// prediction-latency average reported through the stats endpoint.
type Collector struct {
	registry *prometheus.Registry

	predictionsTotal  *prometheus.CounterVec
	predictionLatency prometheus.Histogram
	alertsTotal       prometheus.Counter
	modelFailures     *prometheus.CounterVec
	ruleTriggers      *prometheus.CounterVec

	mu        sync.Mutex
	count     int64
	avgMillis float64
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		predictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "predictions_total",
			Help:      "Total fraud predictions by detection method.",
		}, []string{"method"}),
		predictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "prediction_duration_ms",
			Help:      "Fraud prediction latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		alertsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "alerts_total",
			Help:      "Total transactions flagged as fraud.",
		}),
		modelFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "model_failures_total",
			Help:      "Model prediction failures by model name.",
		}, []string{"model"}),
		ruleTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "rule_triggers_total",
			Help:      "Rule trigger counts by rule name.",
		}, []string{"rule"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObservePrediction records one completed prediction and folds its
// latency into the running average.
func (c *Collector) ObservePrediction(method string, millis float64, isFraud bool) {
	c.predictionsTotal.WithLabelValues(method).Inc()
	c.predictionLatency.Observe(millis)
	if isFraud {
		c.alertsTotal.Inc()
	}

	c.mu.Lock()
	c.count++
	// incremental running average
	c.avgMillis += (millis - c.avgMillis) / float64(c.count)
	c.mu.Unlock()
}

// ObserveModelFailure records a failed model prediction.
func (c *Collector) ObserveModelFailure(model string) {
	c.modelFailures.WithLabelValues(model).Inc()
}

// ObserveRuleTrigger records a triggered rule.
func (c *Collector) ObserveRuleTrigger(rule string) {
	c.ruleTriggers.WithLabelValues(rule).Inc()
}

// Snapshot returns the prediction count and running latency average.
func (c *Collector) Snapshot() (count int64, avgMillis float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.avgMillis
}
