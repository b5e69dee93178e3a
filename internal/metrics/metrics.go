// Package metrics exports flow progress as Prometheus series.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggonzalez94/vaultflow/internal/flow"
	"github.com/ggonzalez94/vaultflow/internal/store"
)

type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	finished    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultflow_flow_transitions_total",
			Help: "Flow step transitions.",
		}, []string{"kind", "step"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultflow_flows_finished_total",
			Help: "Flows that reached a terminal step.",
		}, []string{"kind", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultflow_flow_failures_total",
			Help: "Failed flows by the step they stopped at.",
		}, []string{"kind", "step", "type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultflow_flow_duration_seconds",
			Help:    "Wall time from flow start to a terminal step.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultflow_flows_in_flight",
			Help: "Flows started but not yet terminal.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.transitions, m.finished, m.failures, m.duration, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe records s as one transition.
func (m *Metrics) Observe(s flow.State) {
	kind := string(s.Kind)
	m.transitions.WithLabelValues(kind, string(s.Step)).Inc()
	switch s.Step {
	case flow.StepIdle:
		m.inFlight.WithLabelValues(kind).Inc()
	case flow.StepComplete, flow.StepError:
		outcome := "complete"
		if s.Failed() {
			outcome = "error"
			if s.Failure.Rejected {
				outcome = "rejected"
			}
			m.failures.WithLabelValues(kind, string(s.Failure.FailedAt), s.Failure.Type).Inc()
		}
		m.finished.WithLabelValues(kind, outcome).Inc()
		m.inFlight.WithLabelValues(kind).Dec()
		if !s.StartedAt.IsZero() && !s.UpdatedAt.IsZero() {
			m.duration.WithLabelValues(kind, outcome).Observe(s.UpdatedAt.Sub(s.StartedAt).Seconds())
		}
	}
}

// Sink observes each step of a run once.
func (m *Metrics) Sink() flow.Sink {
	var (
		mu   sync.Mutex
		last = map[string]flow.Step{}
	)
	return flow.SinkFunc(func(s flow.State) {
		if s.ID == "" {
			return
		}
		mu.Lock()
		if last[s.ID] == s.Step {
			mu.Unlock()
			return
		}
		if s.Step.Terminal() {
			delete(last, s.ID)
		} else {
			last[s.ID] = s.Step
		}
		mu.Unlock()
		m.Observe(s)
	})
}

// WriteTextfile dumps the registry for a node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// HistorySource lists recorded flows.
type HistorySource interface {
	List(f store.Filter) ([]flow.State, error)
}

// historyCollector reports persisted flows by kind and step at scrape time.
type historyCollector struct {
	src  HistorySource
	desc *prometheus.Desc
}

// RegisterHistory exposes the recorded flow history as a gauge.
func (m *Metrics) RegisterHistory(src HistorySource) error {
	return m.registry.Register(&historyCollector{
		src: src,
		desc: prometheus.NewDesc(
			"vaultflow_flows_recorded",
			"Recently recorded flows by kind and current step.",
			[]string{"kind", "step"}, nil,
		),
	})
}

func (c *historyCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *historyCollector) Collect(ch chan<- prometheus.Metric) {
	flows, err := c.src.List(store.Filter{Limit: historyWindow})
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	counts := map[[2]string]int{}
	for _, f := range flows {
		counts[[2]string{string(f.Kind), string(f.Step)}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), k[0], k[1])
	}
}

const historyWindow = 500
