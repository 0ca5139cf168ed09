package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registration"

var (
	// Registry holds every collector exported on /metrics
	Registry = prometheus.NewRegistry()

	// Admission counters
	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Registration requests that created a registration, by outcome",
	}, []string{"outcome"})
	AdmissionRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejections_total",
		Help:      "Registration requests rejected, by reason",
	}, []string{"reason"})

	// Cancellation counters
	CancellationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cancellations_total",
		Help:      "Cancelled registrations, by previous status",
	}, []string{"from"})
	PromotionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waitlist_promotions_total",
		Help:      "Waitlisted registrations promoted to registered",
	})
	CapacityConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capacity_conflicts_total",
		Help:      "Admission writes the store refused because the event filled after the capacity check",
	})

	// Lock metrics
	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_lock_wait_seconds",
		Help:      "Time spent acquiring the per-event lock",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 3},
	})
	LockFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_lock_failures_total",
		Help:      "Per-event lock acquisitions that timed out or failed",
	})

	// Notification metrics
	NotificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_published_total",
		Help:      "Notifications handed to the event publisher, by type",
	}, []string{"type"})
	NotificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_failures_total",
		Help:      "Notifications that failed to publish, by type",
	}, []string{"type"})
	NotificationsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dropped_total",
		Help:      "Notifications dropped because the queue was full or closed",
	})
	NotificationsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_delivered_total",
		Help:      "Notifications delivered by the notification worker, by type",
	}, []string{"type"})
	NotificationsDeadLetteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_dead_lettered_total",
		Help:      "Notifications moved to the dead letter topic",
	})
	NotificationsMalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_malformed_total",
		Help:      "Consumed messages skipped because they could not be decoded",
	})

	// HTTP
	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	initOnce sync.Once
	initErr  error
)

// Init registers all collectors once
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		AdmissionsTotal,
		AdmissionRejectionsTotal,
		CancellationsTotal,
		PromotionsTotal,
		CapacityConflictsTotal,
		LockWaitSeconds,
		LockFailuresTotal,
		NotificationsPublishedTotal,
		NotificationFailuresTotal,
		NotificationsDroppedTotal,
		NotificationsDeliveredTotal,
		NotificationsDeadLetteredTotal,
		NotificationsMalformedTotal,
		RequestDuration,
	} {
		if err := Registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// GinMiddleware records request latency per route
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
