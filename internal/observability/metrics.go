package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "handstream"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	transportMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Envelopes moved per channel and direction.",
		},
		[]string{"channel", "direction"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Payload bytes moved per channel and direction.",
		},
		[]string{"channel", "direction"},
	)
	transportKeepalives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "keepalives_total",
			Help:      "Zero-length stream frames.",
		},
		[]string{"direction"},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "errors_total",
			Help:      "Transport failures by channel and reason.",
		},
		[]string{"channel", "reason"},
	)
	reliableConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "stream_connects_total",
			Help:      "Stream connections established.",
		},
		[]string{"role"},
	)
	reliableSendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "stream_send_retries_total",
			Help:      "Stream sends retried after a connect or write failure.",
		},
	)
	mailboxOverwrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "mailbox_overwrites_total",
			Help:      "Hand states replaced before they were drained.",
		},
		[]string{"key"},
	)
	queueEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_evictions_total",
			Help:      "Snapshots evicted from a full queue.",
		},
		[]string{"kind"},
	)
	recordingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "operations_total",
			Help:      "Recording operations by outcome.",
		},
		[]string{"op", "success"},
	)
	recordingsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "registered",
			Help:      "Recordings currently registered.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			transportMessages, transportBytes, transportKeepalives, transportErrors,
			reliableConnects, reliableSendRetries,
			mailboxOverwrites, queueEvictions,
			recordingOps, recordingsRegistered,
		)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(channel, direction string, size int) {
	RegisterMetrics()
	transportMessages.WithLabelValues(channel, direction).Inc()
	transportBytes.WithLabelValues(channel, direction).Add(float64(size))
}

func RecordKeepalive(direction string) {
	RegisterMetrics()
	transportKeepalives.WithLabelValues(direction).Inc()
}

func RecordTransportError(channel, reason string) {
	RegisterMetrics()
	transportErrors.WithLabelValues(channel, reason).Inc()
}

func RecordStreamConnect(role string) {
	RegisterMetrics()
	reliableConnects.WithLabelValues(role).Inc()
}

func RecordSendRetry() {
	RegisterMetrics()
	reliableSendRetries.Inc()
}

func RecordMailboxOverwrite(key string) {
	RegisterMetrics()
	mailboxOverwrites.WithLabelValues(key).Inc()
}

func RecordQueueEviction(kind string) {
	RegisterMetrics()
	queueEvictions.WithLabelValues(kind).Inc()
}

func RecordRecordingOp(op string, err error) {
	RegisterMetrics()
	recordingOps.WithLabelValues(op, strconv.FormatBool(err == nil)).Inc()
}

func SetRecordingsRegistered(n int) {
	RegisterMetrics()
	recordingsRegistered.Set(float64(n))
}
