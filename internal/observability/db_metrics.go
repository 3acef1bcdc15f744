package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const storeTracerName = "github.com/geocoder89/trajethub/internal/repo"

var (
	StorePostgres = semconv.DBSystemPostgreSQL
	StoreMongo    = semconv.DBSystemMongoDB
)

var pgErrorClasses = map[string]string{
	"23505": "unique_violation",
	"23503": "foreign_key_violation",
	"40001": "serialization_failure",
	"40P01": "deadlock",
	"57014": "query_canceled",
}

func isMiss(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, mongo.ErrNoDocuments)
}

// ObserveDB times one logical store operation. Empty results are reported as
// "not_found" and do not count as errors.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	if err != nil {
		status = "not_found"
		if !isMiss(err) {
			status = "error"
			p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
		}
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

// ObserveStore runs fn inside a client span named after op and records it in
// prom when one is given. fn receives the span context.
func ObserveStore(ctx context.Context, prom *Prom, system attribute.KeyValue, op string, fn func(context.Context) error) error {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "db "+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(system, semconv.DBOperation(op)),
	)
	defer span.End()

	run := func() error { return fn(ctx) }

	var err error
	if prom != nil {
		err = prom.ObserveDB(op, run)
	} else {
		err = run()
	}

	if err != nil && !isMiss(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, classifyDBErr(err))
	}
	return err
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if class, ok := pgErrorClasses[pgErr.Code]; ok {
			return class
		}
		return "pg_" + pgErr.Code
	}

	switch {
	case mongo.IsDuplicateKeyError(err):
		return "unique_violation"
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case mongo.IsNetworkError(err), strings.Contains(strings.ToLower(err.Error()), "connection refused"):
		return "connection"
	default:
		return "unknown"
	}
}
