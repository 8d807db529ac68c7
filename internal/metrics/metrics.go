// Package metrics exports task lifecycle counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohans/helpdesk/asyncx"
)

// Collector implements asyncx.Observer.
type Collector struct {
	registry prometheus.Gatherer

	tasksEnqueued *prometheus.CounterVec
	tasksStarted  *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	tasksRunning  *prometheus.GaugeVec
	taskLatency   *prometheus.HistogramVec
}

// NewCollector registers its metrics on reg. A nil reg gets a fresh registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		tasksEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_tasks_enqueued_total",
			Help: "Tasks handed to the broker",
		}, []string{"job"}),
		tasksStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_tasks_started_total",
			Help: "Tasks picked up by a worker",
		}, []string{"job"}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpdesk_tasks_finished_total",
			Help: "Tasks that reached a terminal status",
		}, []string{"job", "status"}),
		tasksRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helpdesk_tasks_running",
			Help: "Tasks currently executing in this process",
		}, []string{"job"}),
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "helpdesk_task_duration_seconds",
			Help:    "Time from pickup to terminal status",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job", "status"}),
	}
	reg.MustRegister(c.tasksEnqueued, c.tasksStarted, c.tasksFinished, c.tasksRunning, c.taskLatency)
	return c
}

func (c *Collector) TaskEnqueued(job string) {
	c.tasksEnqueued.WithLabelValues(job).Inc()
}

func (c *Collector) TaskStarted(job string) {
	c.tasksStarted.WithLabelValues(job).Inc()
	c.tasksRunning.WithLabelValues(job).Inc()
}

func (c *Collector) TaskFinished(job string, status asyncx.Status, elapsed time.Duration) {
	c.tasksRunning.WithLabelValues(job).Dec()
	c.tasksFinished.WithLabelValues(job, string(status)).Inc()
	c.taskLatency.WithLabelValues(job, string(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
