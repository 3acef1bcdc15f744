package observability

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/trajethub/internal/apperr"
	"github.com/geocoder89/trajethub/internal/domain/principal"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "trajethub"

var (
	httpBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
	dbBuckets   = []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5}
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec

	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// result=ok|error|circuit_open
	NotificationsTotal *prometheus.CounterVec
	// result=hit|miss
	SearchCacheTotal *prometheus.CounterVec
	// result=ok or the lowercased error code
	AccountOpsTotal *prometheus.CounterVec
}

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal:    counter("", "http_requests_total", "Total HTTP requests processed", "method", "route", "status"),
		RequestsDuration: histogram("", "http_request_duration_seconds", "HTTP request latency distributions.", httpBuckets, "method", "route", "status"),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}, []string{"method", "route"}),

		DbQueryDuration: histogram("db", "query_duration_seconds", "Store operation latency by logical op.", dbBuckets, "op", "status"),
		DbErrorsTotal:   counter("db", "errors_total", "Store errors by logical op and class.", "op", "class"),

		NotificationsTotal: counter("notifications", "sent_total", "Outbound notifications by template and result.", "template", "result"),
		SearchCacheTotal:   counter("search_cache", "lookups_total", "Trajet search cache lookups by result.", "result"),
		AccountOpsTotal:    counter("accounts", "operations_total", "Account lifecycle operations by kind, op and result.", "kind", "op", "result"),
	}

	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.NotificationsTotal, p.SearchCacheTotal, p.AccountOpsTotal,
	)
	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := ctx.Request.Method

		inFlight := p.InFlight.WithLabelValues(method, route)
		inFlight.Inc()
		defer inFlight.Dec()

		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}

// NotificationObserver adapts the notifications counter to the
// notifier's observer callback shape.
func (p *Prom) NotificationObserver(isCircuitOpen func(error) bool) func(template string, err error) {
	return func(template string, err error) {
		result := "ok"
		switch {
		case err == nil:
		case isCircuitOpen != nil && isCircuitOpen(err):
			result = "circuit_open"
		default:
			result = "error"
		}
		p.NotificationsTotal.WithLabelValues(template, result).Inc()
	}
}

func (p *Prom) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.SearchCacheTotal.WithLabelValues(result).Inc()
}

func (p *Prom) ObserveAccountOp(kind principal.Kind, op string, err error) {
	p.AccountOpsTotal.WithLabelValues(string(kind), op, outcomeLabel(err)).Inc()
}

// outcomeLabel keeps label cardinality bounded to the known error codes.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return strings.ToLower(string(ae.Code))
	}
	return "internal"
}
