package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates the process counters exposed at /metrics.
type Collector struct {
	sessionEvents *prometheus.CounterVec
	apiRequests   *prometheus.CounterVec
	botUpdates    prometheus.Counter
}

// NewCollector registers the ChannelPulse counters on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelpulse_session_events_total",
			Help: "Session lifecycle transitions by event.",
		}, []string{"event"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "channelpulse_api_requests_total",
			Help: "Backend API requests by method and response status.",
		}, []string{"method", "status"}),
		botUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "channelpulse_bot_updates_total",
			Help: "Telegram updates handled by the bot loop.",
		}),
	}

	reg.MustRegister(c.sessionEvents, c.apiRequests, c.botUpdates)
	return c
}

func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

func (c *Collector) RecordAPIRequest(method string, status int) {
	c.apiRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (c *Collector) RecordBotUpdate() {
	c.botUpdates.Inc()
}

// Handler serves the registry in the Prometheus text exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
