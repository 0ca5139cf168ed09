package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	mu.Lock()
	prevGlobal := global
	global = &Telemetry{tracer: provider.Tracer("test")}
	mu.Unlock()

	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		mu.Lock()
		global = prevGlobal
		mu.Unlock()
	})
	return recorder
}

func TestHeadersRoundTrip(t *testing.T) {
	setupRecorder(t)

	ctx, span := StartSpan(context.Background(), "service.registration.request")
	defer span.End()

	headers := map[string]string{}
	InjectHeaders(ctx, headers)
	require.Contains(t, headers, "traceparent")

	restored := ExtractHeaders(context.Background(), headers)
	assert.Equal(t, GetTraceID(ctx), GetTraceID(restored))
	assert.NotEmpty(t, GetTraceID(restored))
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestTracingMiddleware(t *testing.T) {
	recorder := setupRecorder(t)
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(TracingMiddleware("registration-service"))
	r.POST("/events/:eventId/registrations", func(c *gin.Context) {
		c.Set("user_id", "user-1")
		c.Status(http.StatusServiceUnavailable)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/evt-1/registrations", nil))

	assert.NotEmpty(t, w.Header().Get(TraceIDHeader))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /events/:eventId/registrations", span.Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "evt-1", attrs["registration.event_id"].AsString())
	assert.Equal(t, "user-1", attrs["enduser.id"].AsString())
	assert.Equal(t, "Error", span.Status().Code.String())
}
