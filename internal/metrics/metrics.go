package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rezerv",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rezerv",
			Name:      "reservations_total",
			Help:      "Reservation operations by outcome.",
		},
		[]string{"outcome"},
	)

	broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rezerv",
			Name:      "broadcast_events_total",
			Help:      "Broadcast deliveries by result.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, reservations, broadcasts)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncReservation increments the counter for a reservation outcome
// (created, conflict, cancelled, confirmed, completed, rejected).
func IncReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

// IncBroadcast increments the delivery counter (delivered, dropped).
func IncBroadcast(result string) {
	broadcasts.WithLabelValues(result).Inc()
}
