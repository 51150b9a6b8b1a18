package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseTap wraps [http.ResponseWriter] to capture the status code the
// gateway handler writes, so the completion log, span and histogram all
// report the code that actually went out.
type responseTap struct {
	http.ResponseWriter
	status int
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so [http.ResponseController] can reach
// optional interfaces such as [http.Hijacker] for websocket upgrades.
func (t *responseTap) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Middleware wraps the gateway mux with per-request telemetry. It continues
// any W3C trace context the caller sent (or opens a fresh trace), starts a
// server span tagged with the gateway operation, mirrors the trace ID back
// as X-Correlation-ID so a car-mode client can quote it when a turn fails,
// records the request duration histogram, and logs completion with the
// trace-scoped logger.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			op := operationForPath(r.URL.Path)

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					attribute.String("voxroad.operation", op),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tap, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("operation", op),
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
					attribute.Int("status", tap.status),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.status))

			Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("operation", op),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tap.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

// operationForPath maps a gateway route to the logical operation label used
// across metrics, spans and logs.
func operationForPath(path string) string {
	switch path {
	case "/v1/transcribe":
		return "transcribe"
	case "/v1/synthesize":
		return "synthesize"
	case "/v1/events":
		return "events"
	case "/healthz":
		return "health"
	default:
		return "other"
	}
}
