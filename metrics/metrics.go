package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "filebox"
	subsystem = "api"
)

var (
	bootTimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "boot_time_seconds",
		Help:      "Boot time of this instance since epoch (1970)",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_total",
		Help:      "Number of HTTP requests handled, by route and status code.",
	}, []string{"method", "route_path", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "Time taken to handle HTTP requests, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route_path"})

	// FileOperationsTotal counts completed file operations by operation name
	// and the error code they finished with, "ok" on success.
	FileOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filesystem",
		Name:      "operations_total",
		Help:      "Number of file operations performed, by operation and result.",
	}, []string{"operation", "result"})

	// FileItemsTotal counts the individual items touched by batch operations
	// (delete, move, copy).
	FileItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filesystem",
		Name:      "items_total",
		Help:      "Number of items processed by batch file operations.",
	}, []string{"operation"})

	// TransferBytesTotal counts bytes received through uploads and saves, and
	// bytes sent through downloads.
	TransferBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "filesystem",
		Name:      "transfer_bytes_total",
		Help:      "Bytes transferred by uploads, saves and downloads.",
	}, []string{"direction"})
)

// Initialize records the boot time of this instance.
func Initialize() {
	bootTimeSeconds.Set(float64(time.Now().UnixNano()) / 1e9)
}

// Handler returns the HTTP handler that exposes every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation records the outcome of a single file operation.
func ObserveOperation(operation string, result string) {
	FileOperationsTotal.WithLabelValues(operation, result).Inc()
}
