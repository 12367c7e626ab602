package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records job outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the job collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "printforge",
			Name:      "job_runs_total",
			Help:      "Periodic job runs by outcome.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "printforge",
			Name:      "job_duration_seconds",
			Help:      "Periodic job run duration.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 300, 600},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "printforge",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

func (m *Metrics) observe(job string, started time.Time, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		m.lastSuccess.WithLabelValues(job).Set(float64(started.Add(elapsed).Unix()))
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}
