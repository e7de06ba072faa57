package mediaserver

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikey-austin/plex_dlna/internal/ports"
	"github.com/mikey-austin/plex_dlna/pkg/events"
)

// Metrics holds Prometheus collectors for the media server.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	soapActionsTotal *prometheus.CounterVec
	activeStreams    prometheus.Gauge
	streamBytesTotal prometheus.Counter
	streamFailures   prometheus.Counter
	containerUpdates prometheus.Counter
	registryObjects  prometheus.Gauge
	systemUpdateID   prometheus.Gauge
}

// NewMetrics creates and registers the media server collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plexdlna_http_requests_total",
		Help: "HTTP requests served, by method and status code",
	}, []string{"method", "code"})
	soapActionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plexdlna_soap_actions_total",
		Help: "SOAP actions handled, by service, action and outcome",
	}, []string{"service", "action", "outcome"})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plexdlna_active_streams",
		Help: "Stream transfers in progress",
	})
	streamBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexdlna_stream_bytes_total",
		Help: "Bytes relayed to renderers",
	})
	streamFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexdlna_upstream_failures_total",
		Help: "Streams that failed because of the backend",
	})
	containerUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plexdlna_container_updates_total",
		Help: "Container update ID bumps",
	})
	registryObjects := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plexdlna_registry_objects",
		Help: "Object IDs allocated since start",
	})
	systemUpdateID := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plexdlna_system_update_id",
		Help: "Current ContentDirectory SystemUpdateID",
	})

	registry.MustRegister(
		requestsTotal,
		soapActionsTotal,
		activeStreams,
		streamBytesTotal,
		streamFailures,
		containerUpdates,
		registryObjects,
		systemUpdateID,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		soapActionsTotal: soapActionsTotal,
		activeStreams:    activeStreams,
		streamBytesTotal: streamBytesTotal,
		streamFailures:   streamFailures,
		containerUpdates: containerUpdates,
		registryObjects:  registryObjects,
		systemUpdateID:   systemUpdateID,
	}
}

// ObserveAction counts one SOAP action.
func (m *Metrics) ObserveAction(service, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "fault"
	}
	m.soapActionsTotal.WithLabelValues(service, action, outcome).Inc()
}

// Handler serves the Prometheus exposition. updateGauges runs before each
// scrape.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// Registry returns the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestMiddleware counts requests by method and status code.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrap := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)
			m.requestsTotal.WithLabelValues(r.Method, strconv.Itoa(wrap.status)).Inc()
		})
	}
}

// StreamMiddleware tracks in-flight transfers.
func StreamMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.activeStreams.Inc()
			defer m.activeStreams.Dec()
			next.ServeHTTP(w, r)
		})
	}
}

// MeteredEvents counts events before passing them on.
type MeteredEvents struct {
	mu      sync.Mutex
	metrics *Metrics
	next    ports.Events
}

// NewMeteredEvents wraps next. A nil next discards events.
func NewMeteredEvents(m *Metrics, next ports.Events) *MeteredEvents {
	if next == nil {
		next = ports.NopEvents{}
	}
	return &MeteredEvents{metrics: m, next: next}
}

// SetNext replaces the downstream sink.
func (e *MeteredEvents) SetNext(next ports.Events) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next == nil {
		next = ports.NopEvents{}
	}
	e.next = next
}

func (e *MeteredEvents) sink() ports.Events {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

func (e *MeteredEvents) ContainerUpdated(update events.ContainerUpdate) {
	e.metrics.containerUpdates.Inc()
	e.metrics.systemUpdateID.Set(float64(update.SystemUpdateID))
	e.sink().ContainerUpdated(update)
}

func (e *MeteredEvents) StreamEvent(event events.StreamEvent) {
	switch event.Phase {
	case events.StreamFinished:
		e.metrics.streamBytesTotal.Add(float64(event.Bytes))
	case events.StreamFailed:
		e.metrics.streamBytesTotal.Add(float64(event.Bytes))
		e.metrics.streamFailures.Inc()
	}
	e.sink().StreamEvent(event)
}
