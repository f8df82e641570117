package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionEncode = "encode"
	DirectionDecode = "decode"
)

// Decode failure reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
	ReasonUnmarshal   = "unmarshal"
	ReasonIO          = "io"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nearwire",
			Name:      "messages_total",
			Help:      "Messages fully encoded or decoded.",
		},
		[]string{"direction", "type"},
	)

	BytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nearwire",
			Name:      "bytes_total",
			Help:      "Message bytes written or read.",
		},
		[]string{"direction"},
	)

	// Every chunk beyond the first is one suspension of the codec.
	ChunksPerMessage = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nearwire",
			Name:      "chunks_per_message",
			Help:      "Buffer exchanges needed to encode or decode one message.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"direction"},
	)

	DecodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nearwire",
			Name:      "decode_failures_total",
			Help:      "Decode passes that ended in an error.",
		},
		[]string{"reason"},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nearwire",
			Name:      "active_connections",
			Help:      "Accepted connections currently open.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "nearwire",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "nearwire",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		MessagesTotal,
		BytesTotal,
		ChunksPerMessage,
		DecodeFailures,
		ActiveConnections,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes the registry in the prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ObserveMessage records one completed encode or decode pass.
func ObserveMessage(direction string, directType byte, chunks, bytes int) {
	MessagesTotal.WithLabelValues(direction, strconv.Itoa(int(directType))).Inc()
	BytesTotal.WithLabelValues(direction).Add(float64(bytes))
	ChunksPerMessage.WithLabelValues(direction).Observe(float64(chunks))
}

func ObserveDecodeFailure(reason string) {
	DecodeFailures.WithLabelValues(reason).Inc()
}
