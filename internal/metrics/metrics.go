// Package metrics exposes Prometheus collectors for the storage layer, the
// event store and the alarm coordinator. Each Metrics owns its registry so
// tests and multiple runtimes in one process do not collide.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/rzbill/evlog/internal/alarm"
	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/ringbuf"
	pebblestore "github.com/rzbill/evlog/internal/storage/pebble"
)

const namespace = "evlog"

// Metrics implements pebblestore.MetricsHook, eventlog.Observer and
// alarm.Observer.
type Metrics struct {
	reg *prometheus.Registry

	storageOps     *prometheus.HistogramVec
	storageBytes   *prometheus.CounterVec
	batchOps       prometheus.Histogram
	eventsLogged   *prometheus.CounterVec
	eventBytes     *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	bufferUsed     *prometheus.GaugeVec
	bufferCapacity *prometheus.GaugeVec
	alarmsQueued   prometheus.Counter
	alarmsDropped  *prometheus.CounterVec
	messagesSent   prometheus.Counter
	messageAlarms  prometheus.Histogram
	messageBytes   prometheus.Histogram
	transmitFailed prometheus.Counter
	grpcRequests   *prometheus.CounterVec
	grpcDuration   *prometheus.HistogramVec
}

var (
	_ pebblestore.MetricsHook = (*Metrics)(nil)
	_ eventlog.Observer       = (*Metrics)(nil)
	_ alarm.Observer          = (*Metrics)(nil)
)

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		storageOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "op_duration_seconds",
			Help:    "Duration of storage operations.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"op"}),
		storageBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "bytes_total",
			Help: "Bytes moved by storage operations.",
		}, []string{"op"}),
		batchOps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "batch_ops",
			Help:    "Operations per committed batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		eventsLogged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "events_logged_total",
			Help: "Events appended to a ring buffer.",
		}, []string{"class"}),
		eventBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "event_bytes_total",
			Help: "Record bytes appended to a ring buffer.",
		}, []string{"class"}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "events_dropped_total",
			Help: "Events that were not logged.",
		}, []string{"reason"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "corruption_recoveries_total",
			Help: "Partitions erased after corruption was detected.",
		}, []string{"class"}),
		bufferUsed: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "buffer_used_bytes",
			Help: "Bytes held by a ring buffer.",
		}, []string{"class"}),
		bufferCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "buffer_capacity_bytes",
			Help: "Capacity of a ring buffer.",
		}, []string{"class"}),
		alarmsQueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "queued_total",
			Help: "Alarms accepted by the coordinator queue.",
		}),
		alarmsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "dropped_total",
			Help: "Alarms the coordinator could not deliver.",
		}, []string{"reason"}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "messages_sent_total",
			Help: "Alarm messages handed to the uplink.",
		}),
		messageAlarms: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "message_alarms",
			Help:    "Alarms per transmitted message.",
			Buckets: prometheus.LinearBuckets(1, 2, 8),
		}),
		messageBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "message_bytes",
			Help:    "Payload size of transmitted messages.",
			Buckets: prometheus.LinearBuckets(64, 192, 7),
		}),
		transmitFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "alarm", Name: "transmit_failures_total",
			Help: "Alarm messages the uplink rejected.",
		}),
		grpcRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "grpc", Name: "requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "code"}),
		grpcDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "grpc", Name: "request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.storageOps.WithLabelValues("write").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("write").Add(float64(bytes))
}

func (m *Metrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.storageOps.WithLabelValues("read").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.storageOps.WithLabelValues("commit").Observe(elapsed.Seconds())
	m.storageBytes.WithLabelValues("commit").Add(float64(bytes))
	m.batchOps.Observe(float64(numOps))
}

func (m *Metrics) EventLogged(class eventlog.Class, bytes int) {
	m.eventsLogged.WithLabelValues(class.String()).Inc()
	m.eventBytes.WithLabelValues(class.String()).Add(float64(bytes))
}

func (m *Metrics) EventDropped(reason string) { m.eventsDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) CorruptionRecovered(class eventlog.Class) {
	m.recoveries.WithLabelValues(class.String()).Inc()
}

func (m *Metrics) BufferUsage(class eventlog.Class, d ringbuf.Descriptor) {
	m.bufferUsed.WithLabelValues(class.String()).Set(float64(d.Length))
	m.bufferCapacity.WithLabelValues(class.String()).Set(float64(d.Capacity))
}

func (m *Metrics) AlarmQueued() { m.alarmsQueued.Inc() }

func (m *Metrics) AlarmDropped(reason string) { m.alarmsDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) MessageSent(alarms, bytes int) {
	m.messagesSent.Inc()
	m.messageAlarms.Observe(float64(alarms))
	m.messageBytes.Observe(float64(bytes))
}

func (m *Metrics) TransmitFailed() { m.transmitFailed.Inc() }

// UnaryInterceptor records count and latency of unary gRPC calls.
func (m *Metrics) UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	m.grpcRequests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	m.grpcDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	return resp, err
}
