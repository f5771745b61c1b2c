// ABOUTME: Prometheus collectors for store calls and the worker queue
// ABOUTME: Registered on the caller's registerer when one is supplied

package store

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	calls      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueDepth prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zova",
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Store calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zova",
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Time spent executing store calls on a worker.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zova",
			Subsystem: "store",
			Name:      "queue_depth",
			Help:      "Calls admitted to the work queue but not yet picked up.",
		}),
	}
	if reg != nil {
		m.calls = register(reg, m.calls)
		m.duration = register(reg, m.duration)
		m.queueDepth = register(reg, m.queueDepth)
	}
	return m
}

// register reuses an existing collector when a second store is opened on the
// same registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observe(stage string, started time.Time, err error) {
	m.duration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	m.calls.WithLabelValues(stage, outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	kind := KindOf(err)
	if kind == 0 {
		return "error"
	}
	return strings.ReplaceAll(kind.String(), " ", "_")
}
