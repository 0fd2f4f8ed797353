package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payroll_ledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payroll_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	scheduledPayments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "scheduled_payments_total",
			Help:      "Total number of payment records admitted to the ledger.",
		},
	)

	scheduledBatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "scheduled_batches_total",
			Help:      "Total number of admitted batches.",
		},
	)

	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "executions_total",
			Help:      "Total number of payment execution attempts.",
		},
		[]string{"status"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "execution_duration_seconds",
			Help:      "Duration of single payment executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	routings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "routings_total",
			Help:      "Total number of yield routings and emergency withdrawals.",
		},
		[]string{"direction"},
	)

	escrowBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "escrow_balance",
			Help:      "Current escrow balance per asset, in base units.",
		},
		[]string{"asset"},
	)

	escrowShortfall = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payroll_ledger",
			Subsystem: "ledger",
			Name:      "escrow_shortfall",
			Help:      "Unexecuted obligations not currently backed by escrow, per asset.",
		},
		[]string{"asset"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		scheduledPayments,
		scheduledBatches,
		executions,
		executionDuration,
		routings,
		escrowBalance,
		escrowShortfall,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordScheduledBatch records an admitted batch and its record count.
func RecordScheduledBatch(count int) {
	scheduledBatches.Inc()
	scheduledPayments.Add(float64(count))
}

// RecordExecution records one payment execution attempt.
func RecordExecution(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	executions.WithLabelValues(status).Inc()
	executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRouting records one routing journal entry by direction.
func RecordRouting(direction string) {
	if direction == "" {
		direction = "unknown"
	}
	routings.WithLabelValues(direction).Inc()
}

// SetEscrowBalance publishes the current escrow balance of an asset.
// Balances are big integers; the float conversion loses precision for very
// large values but stays monotonic, which is enough for dashboards.
func SetEscrowBalance(asset string, balance *big.Int) {
	escrowBalance.WithLabelValues(asset).Set(bigFloat(balance))
}

// SetEscrowShortfall publishes the gap between unexecuted obligations and
// the current escrow balance of an asset. Zero when fully backed.
func SetEscrowShortfall(asset string, shortfall *big.Int) {
	escrowShortfall.WithLabelValues(asset).Set(bigFloat(shortfall))
}

func bigFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "payroll":
		if len(parts) == 1 {
			return "/payroll"
		}
		switch parts[1] {
		case "payments":
			if len(parts) > 2 {
				return "/payroll/payments/:index"
			}
			return "/payroll/payments"
		case "escrow":
			return "/payroll/escrow/:asset"
		default:
			return "/payroll/" + parts[1]
		}
	case "admin":
		if len(parts) == 1 {
			return "/admin"
		}
		return "/admin/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
