package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ConversationMetrics exposes counters/histograms for the booking assistant.
type ConversationMetrics struct {
	messagesTotal      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	collaboratorErrors *prometheus.CounterVec
	bookingEventsTotal *prometheus.CounterVec
	emailTotal         *prometheus.CounterVec
	turnLatency        *prometheus.HistogramVec
	httpLatency        *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resthouse",
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Inbound chat messages by the stage they arrived in",
		}, []string{"stage"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resthouse",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Stage transitions performed by the conversation engine",
		}, []string{"from", "to"}),
		collaboratorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resthouse",
			Subsystem: "conversation",
			Name:      "collaborator_errors_total",
			Help:      "Failed booking/email/store calls made while handling a turn",
		}, []string{"operation"}),
		bookingEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resthouse",
			Subsystem: "bookings",
			Name:      "events_total",
			Help:      "Booking lifecycle events (created, confirmed, cancelled)",
		}, []string{"event"}),
		emailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "resthouse",
			Subsystem: "notify",
			Name:      "emails_total",
			Help:      "Outbound booking emails",
		}, []string{"kind", "status"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resthouse",
			Subsystem: "conversation",
			Name:      "turn_latency_seconds",
			Help:      "Time spent handling one chat turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "resthouse",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency by route and status code",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesTotal, m.transitionsTotal, m.collaboratorErrors, m.bookingEventsTotal, m.emailTotal, m.turnLatency, m.httpLatency)
	return m
}

func (m *ConversationMetrics) ObserveMessage(stage string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(stage).Inc()
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *ConversationMetrics) ObserveCollaboratorError(operation string) {
	if m == nil {
		return
	}
	m.collaboratorErrors.WithLabelValues(operation).Inc()
}

func (m *ConversationMetrics) ObserveBookingEvent(event string) {
	if m == nil {
		return
	}
	m.bookingEventsTotal.WithLabelValues(event).Inc()
}

func (m *ConversationMetrics) ObserveEmail(kind string, sent bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !sent {
		status = "failed"
	}
	m.emailTotal.WithLabelValues(kind, status).Inc()
}

func (m *ConversationMetrics) ObserveTurnLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(stage).Observe(seconds)
}

// ObserveHTTPRequest records one handled request. route is the chi pattern,
// not the raw path.
func (m *ConversationMetrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
