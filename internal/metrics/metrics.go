package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mainstack"

// Worker agrupa las metricas del consumidor de notificaciones.
type Worker struct {
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsInFlight  prometheus.Gauge
	QueueDepth    *prometheus.GaugeVec
}

// NewWorker registra las metricas del worker en reg.
func NewWorker(reg prometheus.Registerer) *Worker {
	f := promauto.With(reg)
	return &Worker{
		JobsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_processed_total",
				Help:      "Job attempts by job name and resulting state",
			},
			[]string{"job", "state"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "job_duration_seconds",
				Help:      "Handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		JobsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "jobs_in_flight",
				Help:      "Handlers currently running",
			},
		),
		QueueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Jobs per queue state",
			},
			[]string{"queue", "state"}, // ready, in_flight, delayed, dead
		),
	}
}

// ObserveJob registra el resultado de un intento.
func (m *Worker) ObserveJob(job, state string, d time.Duration) {
	m.JobsProcessed.WithLabelValues(job, state).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// RecordQueueDepth publica el tamaño de cada estado de la cola.
func (m *Worker) RecordQueueDepth(queue string, ready, inFlight, delayed, dead int64) {
	m.QueueDepth.WithLabelValues(queue, "ready").Set(float64(ready))
	m.QueueDepth.WithLabelValues(queue, "in_flight").Set(float64(inFlight))
	m.QueueDepth.WithLabelValues(queue, "delayed").Set(float64(delayed))
	m.QueueDepth.WithLabelValues(queue, "dead").Set(float64(dead))
}

// HTTP agrupa las metricas de requests del API.
type HTTP struct {
	RequestCounter  *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	f := promauto.With(reg)
	return &HTTP{
		RequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Middleware mide cada request usando la ruta registrada como label.
func (m *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestCounter.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
