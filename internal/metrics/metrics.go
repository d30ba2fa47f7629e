package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ticketsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkin",
			Name:      "tickets_created_total",
			Help:      "Count of queue tickets registered, by priority.",
		},
		[]string{"priority"},
	)

	ticketTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkin",
			Name:      "ticket_transitions_total",
			Help:      "Count of ticket state actions by action and result.",
		},
		[]string{"action", "result"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkin",
			Name:      "login_attempts_total",
			Help:      "Count of login attempts by result.",
		},
		[]string{"result"},
	)

	dashboardCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkin",
			Name:      "dashboard_cache_total",
			Help:      "Dashboard summary cache lookups by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walkin",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by method and status class.",
		},
		[]string{"method", "class"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walkin",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ticketsCreated, ticketTransitions, loginAttempts, dashboardCache, httpRequests, httpDuration)
	})
}

func IncTicketCreated(priority bool) {
	ticketsCreated.WithLabelValues(strconv.FormatBool(priority)).Inc()
}

func IncTransition(action, result string) {
	ticketTransitions.WithLabelValues(action, result).Inc()
}

func IncLogin(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}

func IncDashboardCache(result string) {
	dashboardCache.WithLabelValues(result).Inc()
}

func ObserveHTTP(method string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, strconv.Itoa(status/100)+"xx").Inc()
	httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
