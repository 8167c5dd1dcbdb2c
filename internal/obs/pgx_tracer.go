package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// sqlPreviewLimit bounds the statement attribute so parameter-heavy inserts
// do not bloat span payloads.
const sqlPreviewLimit = 300

type querySpanKey struct{}

// PGXTracer hooks pgx query execution into the active trace. Attached to the
// pool config, it makes every query a child span of the request span.
type PGXTracer struct{}

func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	verb := "sql"
	if fields := strings.Fields(data.SQL); len(fields) > 0 {
		verb = strings.ToLower(fields[0])
	}
	ctx, span := otel.Tracer("billing.db").Start(ctx, "db."+verb)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", verb),
		attribute.String("db.statement", sqlPreview(data.SQL)),
	)
	return context.WithValue(ctx, querySpanKey{}, span)
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(querySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil {
		span.RecordError(data.Err)
	}
	span.End()
}

func sqlPreview(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > sqlPreviewLimit {
		return trimmed[:sqlPreviewLimit] + "..."
	}
	return trimmed
}
