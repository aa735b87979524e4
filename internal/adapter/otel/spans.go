package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "webmvc"

// StartDispatchSpan starts a span for one dispatch of a request. Nested
// include and forward dispatches get child spans.
func StartDispatchSpan(ctx context.Context, kind, method, path string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch."+kind,
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("url.path", path),
		),
	)
}

// StartRenderSpan starts a span for rendering a view.
func StartRenderSpan(ctx context.Context, viewName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "render",
		trace.WithAttributes(attribute.String("view.name", viewName)),
	)
}

// StartAsyncSpan starts a span covering the wait for async processing.
func StartAsyncSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "async.wait")
}
