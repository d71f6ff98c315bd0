package metrics

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestDuration tracks HTTP request duration in seconds by method, path, status.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// RequestTotal counts HTTP requests by method, path, status.
	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EquipmentWrites counts committed equipment writes by operation (create, update, delete, batch).
	EquipmentWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equipment_writes_total",
			Help: "Total number of committed equipment writes by operation",
		},
		[]string{"op"},
	)

	// ImportRows counts spreadsheet rows by outcome (inserted, updated, unchanged, rejected).
	ImportRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Total number of imported spreadsheet rows by result",
		},
		[]string{"result"},
	)

	// DBRetries counts reconnect-and-retry attempts after a transient database error.
	DBRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_retries_total",
			Help: "Total number of database operations retried after a transient failure",
		},
		[]string{"op"},
	)

	// ActiveSessions is the number of live web UI sessions held in memory.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "web_sessions_active",
			Help: "Number of live web UI sessions in the in-memory store",
		},
	)
)

var (
	numericPathSegment = regexp.MustCompile(`/[0-9]+(/|$)`)
	initOnce           sync.Once
)

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestDuration, RequestTotal, EquipmentWrites, ImportRows, DBRetries, ActiveSessions)
	})
}

// NormalizePath reduces cardinality by replacing numeric path segments with {id}.
// E.g. /equipment/123/audit -> /equipment/{id}/audit.
func NormalizePath(path string) string {
	return numericPathSegment.ReplaceAllString(path, "/{id}$1")
}

// RecordRequest records duration and count for an HTTP request. Call from middleware with method, path, statusCode, duration.
func RecordRequest(method, path string, statusCode int, durationSeconds float64) {
	path = NormalizePath(path)
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, path, status).Inc()
}

func IncEquipmentWrite(op string) {
	EquipmentWrites.WithLabelValues(op).Inc()
}

// AddImportRows adds n rows to the import counter for result. n <= 0 is ignored.
func AddImportRows(result string, n int) {
	if n > 0 {
		ImportRows.WithLabelValues(result).Add(float64(n))
	}
}

func IncDBRetry(op string) {
	DBRetries.WithLabelValues(op).Inc()
}

// SetActiveSessions publishes the current in-memory session count.
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}
