package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/game-alerts/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common label keys.
const (
	LabelResult  = "result"
	LabelType    = "type"
	LabelOutcome = "outcome"
	LabelLeague  = "league"
	LabelReason  = "reason"
)

// Cycle results.
const (
	CycleOK      = "ok"
	CycleIdle    = "idle"
	CycleSkipped = "skipped"
	CycleError   = "error"
)

// Recorder exposes pipeline metrics on its own Prometheus registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	events          *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	activeGames     prometheus.Gauge
	subscriptionOps *prometheus.CounterVec
}

// NewRecorder creates a Recorder with process and Go runtime collectors registered.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "game_alerts_cycles_total",
			Help: "Notification cycles by result.",
		}, []string{LabelResult}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "game_alerts_cycle_duration_seconds",
			Help:    "Wall-clock duration of notification cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "game_alerts_events_total",
			Help: "Detected notification events by type and league.",
		}, []string{LabelType, LabelLeague}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "game_alerts_deliveries_total",
			Help: "Push delivery attempts by outcome.",
		}, []string{LabelOutcome}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "game_alerts_upstream_failures_total",
			Help: "Failed scores provider fetches by league and reason.",
		}, []string{LabelLeague, LabelReason}),
		activeGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "game_alerts_active_games",
			Help: "Games in the active working set at the last cycle.",
		}),
		subscriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "game_alerts_subscription_operations_total",
			Help: "Subscription lifecycle operations by type.",
		}, []string{LabelType}),
	}
	reg.MustRegister(r.cycles, r.cycleDuration, r.events, r.deliveries, r.upstreamErrors, r.activeGames, r.subscriptionOps)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordCycle counts a finished cycle and observes its duration.
func (r *Recorder) RecordCycle(result string, duration time.Duration) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

// RecordEvent counts a detected event.
func (r *Recorder) RecordEvent(ev domain.NotificationEvent) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(string(ev.Type), string(ev.League)).Inc()
}

// RecordDelivery counts a push attempt.
func (r *Recorder) RecordDelivery(outcome domain.DeliveryOutcome) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(string(outcome)).Inc()
}

// RecordUpstreamFailure counts a failed provider fetch.
func (r *Recorder) RecordUpstreamFailure(league domain.League, err error) {
	if r == nil {
		return
	}
	reason := "error"
	if errors.Is(err, domain.ErrUpstreamRateLimited) {
		reason = "rate_limited"
	}
	r.upstreamErrors.WithLabelValues(string(league), reason).Inc()
}

// SetActiveGames records the size of the active working set.
func (r *Recorder) SetActiveGames(n int) {
	if r == nil {
		return
	}
	r.activeGames.Set(float64(n))
}

// RecordSubscriptionOp counts a lifecycle operation such as "subscribe".
func (r *Recorder) RecordSubscriptionOp(op string) {
	if r == nil {
		return
	}
	r.subscriptionOps.WithLabelValues(op).Inc()
}
