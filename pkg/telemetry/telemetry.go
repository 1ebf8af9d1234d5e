// Package telemetry exposes Prometheus metrics and a lightweight request
// middleware. Only slow requests are logged; everything else is counted.
package telemetry

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chatrelay/pkg/logger"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "HTTP requests by method, route and status class.",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	MessagesUpserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_ingest_messages_upserted_total",
		Help: "Messages created or updated from inbound payloads.",
	})

	StatusesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_ingest_statuses_applied_total",
		Help: "Delivery-status updates applied to stored messages.",
	})

	UnknownStatusRefs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_ingest_unknown_status_refs_total",
		Help: "Status updates referencing a message id not in the store.",
	})

	EnvelopesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_ingest_envelopes_rejected_total",
		Help: "Payloads that did not match any recognized envelope shape.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_ingest_queue_depth",
		Help: "Payloads waiting in the ingest queue.",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(MessagesUpserted)
	prometheus.MustRegister(StatusesApplied)
	prometheus.MustRegister(UnknownStatusRefs)
	prometheus.MustRegister(EnvelopesRejected)
	prometheus.MustRegister(QueueDepth)
}

// fanoutStats is the subset of the bus the gauges read.
type fanoutStats interface {
	SubscriberCount() int
	Dropped() uint64
}

// RegisterFanout wires live-subscriber gauges to the bus. Call once at startup.
func RegisterFanout(b fanoutStats) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatrelay_fanout_subscribers",
			Help: "Currently connected live-delta subscribers.",
		},
		func() float64 { return float64(b.SubscriberCount()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatrelay_fanout_dropped_total",
			Help: "Deltas discarded because a subscriber buffer was full.",
		},
		func() float64 { return float64(b.Dropped()) },
	))
}

// storeStats is the subset of the pebble store the gauges read.
type storeStats interface {
	WALBytes() uint64
	DiskUsageBytes() uint64
}

// RegisterStore wires storage gauges. Call once at startup.
func RegisterStore(s storeStats) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatrelay_store_wal_bytes",
			Help: "Bytes written to the write-ahead log.",
		},
		func() float64 { return float64(s.WALBytes()) },
	))
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "chatrelay_store_disk_usage_bytes",
			Help: "Estimated on-disk size of the store.",
		},
		func() float64 { return float64(s.DiskUsageBytes()) },
	))
}

var slowThreshold = 200 * time.Millisecond

// SetSlowThreshold sets the duration above which a request gets a log line.
func SetSlowThreshold(d time.Duration) {
	if d > 0 {
		slowThreshold = d
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the wrapped writer so websocket upgrades work.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Middleware counts every request and logs the slow ones.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)

		route := r.URL.Path
		RequestsTotal.WithLabelValues(r.Method, route, statusClass(srw.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(dur.Seconds())

		if dur > slowThreshold {
			logger.Log.Warn("slow_request",
				zap.String("method", r.Method),
				zap.String("path", route),
				zap.Int("status", srw.status),
				zap.Int64("duration_ms", dur.Milliseconds()))
		}
	})
}
