package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/wirehome/internal/bus"
	"github.com/nerrad567/wirehome/internal/device"
	"github.com/nerrad567/wirehome/internal/eventbus"
)

const namespace = "wirehome"

// Metrics holds the collectors for one daemon.
type Metrics struct {
	registry *prometheus.Registry

	busTransactions *prometheus.CounterVec
	busAttempts     *prometheus.HistogramVec

	pollCycles   *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	pollReads    *prometheus.CounterVec
	pollFailures *prometheus.CounterVec
	pollSkipped  *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	actuations        *prometheus.CounterVec
	actuationDuration *prometheus.HistogramVec

	deviceHealth *prometheus.GaugeVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		busTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "transactions_total",
			Help: "Bus transactions by op and result (ok, timeout, integrity_mismatch, device_absent, error).",
		}, []string{"op", "result"}),
		busAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bus", Name: "transaction_attempts",
			Help:    "Attempts used per bus transaction.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"op"}),

		pollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycles_total",
			Help: "Completed poll cycles per segment.",
		}, []string{"segment"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycle_duration_seconds",
			Help:    "Poll cycle duration per segment.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"segment"}),
		pollReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "reads_total",
			Help: "Successful channel reads per segment.",
		}, []string{"segment"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "read_failures_total",
			Help: "Failed channel reads per segment.",
		}, []string{"segment"}),
		pollSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "skipped_devices_total",
			Help: "Unhealthy devices skipped while waiting for their next probe.",
		}, []string{"segment"}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "published_total",
			Help: "Events published by kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "dropped_total",
			Help: "Events dropped from a full subscriber queue.",
		}, []string{"subscriber", "kind"}),

		actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "actuations_total",
			Help: "Dispatched commands by output role and outcome.",
		}, []string{"role", "outcome"}),
		actuationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "actuation_duration_seconds",
			Help:    "Time from dequeue to verified write.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"outcome"}),

		deviceHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "device", Name: "healthy",
			Help: "1 when the device is healthy, 0 otherwise.",
		}, []string{"device"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.busTransactions, m.busAttempts,
		m.pollCycles, m.pollDuration, m.pollReads, m.pollFailures, m.pollSkipped,
		m.eventsPublished, m.eventsDropped,
		m.actuations, m.actuationDuration,
		m.deviceHealth,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTransaction implements bus.Observer.
func (m *Metrics) ObserveTransaction(op bus.Op, attempts int, err error) {
	m.busTransactions.WithLabelValues(op.String(), transactionResult(err)).Inc()
	m.busAttempts.WithLabelValues(op.String()).Observe(float64(attempts))
}

func transactionResult(err error) string {
	if err == nil {
		return "ok"
	}
	var be *bus.BusError
	if errors.As(err, &be) {
		return be.Kind.String()
	}
	return "error"
}

// ObserveCycle implements poller.Observer.
func (m *Metrics) ObserveCycle(segment string, duration time.Duration, reads, failures, skipped int) {
	m.pollCycles.WithLabelValues(segment).Inc()
	m.pollDuration.WithLabelValues(segment).Observe(duration.Seconds())
	m.pollReads.WithLabelValues(segment).Add(float64(reads))
	m.pollFailures.WithLabelValues(segment).Add(float64(failures))
	m.pollSkipped.WithLabelValues(segment).Add(float64(skipped))
}

// EventPublished implements eventbus.Observer.
func (m *Metrics) EventPublished(kind eventbus.Kind) {
	m.eventsPublished.WithLabelValues(string(kind)).Inc()
}

// EventDropped implements eventbus.Observer.
func (m *Metrics) EventDropped(subscriber string, kind eventbus.Kind) {
	m.eventsDropped.WithLabelValues(subscriber, string(kind)).Inc()
}

// ObserveActuation implements dispatch.Observer.
func (m *Metrics) ObserveActuation(role, outcome string, _ int, duration time.Duration) {
	m.actuations.WithLabelValues(role, outcome).Inc()
	m.actuationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetDeviceHealth sets the health gauge of one device.
func (m *Metrics) SetDeviceHealth(deviceID string, status device.HealthStatus) {
	v := 0.0
	if status == device.HealthHealthy {
		v = 1
	}
	m.deviceHealth.WithLabelValues(deviceID).Set(v)
}

// HealthSource lists the devices whose gauges are seeded at startup.
type HealthSource interface {
	Devices() []device.Device
}

// TrackHealth seeds the health gauges from reg and then follows
// DeviceHealthChanged events from sub until ctx ends.
func (m *Metrics) TrackHealth(ctx context.Context, reg HealthSource, sub *eventbus.Subscription) {
	defer sub.Close()

	for _, d := range reg.Devices() {
		m.SetDeviceHealth(d.ID, d.Health)
	}

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if hc, ok := ev.Payload.(eventbus.HealthChange); ok {
			m.SetDeviceHealth(hc.DeviceID, device.HealthStatus(hc.New))
		}
	}
}
