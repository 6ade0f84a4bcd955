package trace

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const traceparentHeader = "traceparent"

// TraceContext is the W3C trace-context header set understood by the cascade.
type TraceContext struct {
	Traceparent string `json:"traceparent"`
}

var w3c = propagation.TraceContext{}

// ToTraceContext renders "00-<32hex trace id>-<16hex span id>-01". The trace id is the
// correlation id without dashes, zero-padded or truncated to 32 hex digits; the span id
// is handled the same way at 16 digits.
func (c *Context) ToTraceContext() (TraceContext, error) {
	sc, err := c.SpanContext()
	if err != nil {
		return TraceContext{}, err
	}
	carrier := propagation.MapCarrier{}
	w3c.Inject(oteltrace.ContextWithSpanContext(context.Background(), sc), carrier)
	return TraceContext{Traceparent: carrier.Get(traceparentHeader)}, nil
}

// SpanContext exposes the context as an OpenTelemetry span context.
func (c *Context) SpanContext() (oteltrace.SpanContext, error) {
	traceID, err := oteltrace.TraceIDFromHex(fitHex(c.correlationID, 32))
	if err != nil {
		return oteltrace.SpanContext{}, fmt.Errorf("trace id from correlation id %q: %w", c.correlationID, err)
	}
	spanID, err := oteltrace.SpanIDFromHex(fitHex(c.spanID, 16))
	if err != nil {
		return oteltrace.SpanContext{}, fmt.Errorf("span id from %q: %w", c.spanID, err)
	}
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: oteltrace.FlagsSampled,
	}), nil
}

func parseTraceparent(header string) (traceID, spanID string, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", fmt.Errorf("%w: empty header", ErrInvalidTraceparent)
	}
	ctx := w3c.Extract(context.Background(), propagation.MapCarrier{traceparentHeader: header})
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTraceparent, header)
	}
	return sc.TraceID().String(), sc.SpanID().String(), nil
}

// correlationFromTraceID lays a 32-hex trace id out in the 8-4-4-4-12 uuid shape.
func correlationFromTraceID(traceID string) string {
	h := fitHex(traceID, 32)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// fitHex keeps the hex digits of s (lowercased) and pads with '0' or truncates to n.
func fitHex(s string, n int) string {
	var b strings.Builder
	b.Grow(n)
	for _, r := range strings.ToLower(s) {
		if b.Len() == n {
			break
		}
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	for b.Len() < n {
		b.WriteByte('0')
	}
	return b.String()
}

type ctxKey struct{}

// ContextWith stores c on ctx, alongside its OpenTelemetry span context when c has one.
func ContextWith(ctx context.Context, c *Context) context.Context {
	ctx = context.WithValue(ctx, ctxKey{}, c)
	if sc, err := c.SpanContext(); err == nil {
		ctx = oteltrace.ContextWithSpanContext(ctx, sc)
	}
	return ctx
}

func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok && c != nil
}
