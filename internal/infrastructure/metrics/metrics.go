// Package metrics exposes Prometheus collectors for the Homismart client.
//
// Collectors live on a private registry so tests can build as many
// instances as they like without duplicate-registration panics.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "homismart"

// Metrics holds every collector. All methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	sessionState     *prometheus.GaugeVec
	framesReceived   prometheus.Counter
	framesMalformed  prometheus.Counter
	commandsSent     *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
	reconnects       prometheus.Counter
	events           *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames read from the service.",
		}),
		framesMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_malformed_total",
			Help:      "Inbound frames skipped because they could not be decoded or applied.",
		}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Device commands handed to the transport, by command.",
		}, []string{"command"}),
		commandsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_rejected_total",
			Help:      "Device commands refused before sending, by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts made after the first.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the session bus, by name.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Local API requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessionState,
		m.framesReceived,
		m.framesMalformed,
		m.commandsSent,
		m.commandsRejected,
		m.reconnects,
		m.events,
		m.httpRequests,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StateChanged moves the session state gauge.
func (m *Metrics) StateChanged(from, to string) {
	if from != "" {
		m.sessionState.WithLabelValues(from).Set(0)
	}
	m.sessionState.WithLabelValues(to).Set(1)
}

// FrameReceived counts one inbound frame.
func (m *Metrics) FrameReceived() { m.framesReceived.Inc() }

// FrameMalformed counts one skipped frame.
func (m *Metrics) FrameMalformed() { m.framesMalformed.Inc() }

// CommandSent counts one command handed to the transport.
func (m *Metrics) CommandSent(command string) { m.commandsSent.WithLabelValues(command).Inc() }

// CommandRejected counts one command refused before sending.
func (m *Metrics) CommandRejected(reason string) { m.commandsRejected.WithLabelValues(reason).Inc() }

// ReconnectAttempt counts one reconnection attempt.
func (m *Metrics) ReconnectAttempt() { m.reconnects.Inc() }

// EventPublished counts one bus event.
func (m *Metrics) EventPublished(name string) { m.events.WithLabelValues(name).Inc() }

// Middleware counts requests by chi route pattern so path parameters do
// not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through to the underlying writer so websocket upgrades
// work behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", r.ResponseWriter)
	}
	return h.Hijack()
}
