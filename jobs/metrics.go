package jobs

import "github.com/prometheus/client_golang/prometheus"

const (
	resultCompleted = "completed"
	resultRetried   = "retried"
	resultFailed    = "failed"
)

type Metrics struct {
	processed *prometheus.CounterVec
}

// NewMetrics registers the job counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Jobs handled by the worker, partitioned by outcome.",
		}, []string{"queue", "name", "result"}),
	}
	reg.MustRegister(m.processed)
	return m
}

func (m *Metrics) observe(queue, name, result string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queue, name, result).Inc()
}
