package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
)

type routePatternKey struct{}

// WithRoutePattern pins the matched route template (e.g.
// /api/v1/orders/{orderNo}) on the context so downstream instrumentation
// labels by template instead of raw path.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, routePatternKey{}, pattern)
}

// RoutePatternFromContext returns the pinned route template, or "".
func RoutePatternFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(routePatternKey{}).(string)
	return v
}

// RouteLabel resolves a low-cardinality route label for metrics and spans:
// the pinned template first, then chi's own match, then the fallback.
func RouteLabel(ctx context.Context, fallback string) string {
	if p := RoutePatternFromContext(ctx); p != "" {
		return p
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return fallback
}
