package trace

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	oteltrace "go.opentelemetry.io/otel/trace"
)

var traceparentRe = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-01$`)

func TestToTraceContext_WellFormed(t *testing.T) {
	c := NewRoot("cascade")

	tc, err := c.ToTraceContext()
	if err != nil {
		t.Fatal(err)
	}
	if !traceparentRe.MatchString(tc.Traceparent) {
		t.Fatalf("malformed traceparent %q", tc.Traceparent)
	}
	wantTrace := strings.ReplaceAll(c.CorrelationID(), "-", "")
	if !strings.Contains(tc.Traceparent, wantTrace) {
		t.Fatalf("expected trace id %s in %q", wantTrace, tc.Traceparent)
	}
}

func TestTraceContext_RoundTrip(t *testing.T) {
	c := NewRoot("cascade")
	tc, err := c.ToTraceContext()
	if err != nil {
		t.Fatal(err)
	}

	restored, err := New(Options{FromTraceContext: &tc})
	if err != nil {
		t.Fatal(err)
	}
	if restored.CorrelationID() != c.CorrelationID() {
		t.Fatalf("expected correlation %s, got %s", c.CorrelationID(), restored.CorrelationID())
	}
	if restored.Depth() != 0 {
		t.Fatalf("expected a root context, got depth %d", restored.Depth())
	}
	if restored.ParentID() != fitHex(c.SpanID(), 16) {
		t.Fatalf("expected parent span %s, got %s", fitHex(c.SpanID(), 16), restored.ParentID())
	}
	if restored.SpanID() == c.SpanID() {
		t.Fatalf("expected fresh span id")
	}

	again, err := restored.ToTraceContext()
	if err != nil {
		t.Fatal(err)
	}
	if again.Traceparent[3:35] != tc.Traceparent[3:35] {
		t.Fatalf("trace id changed: %s vs %s", tc.Traceparent, again.Traceparent)
	}
}

func TestFromTraceContext_ExternalHeader(t *testing.T) {
	tc := TraceContext{Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}
	c, err := New(Options{FromTraceContext: &tc, Name: "inbound"})
	if err != nil {
		t.Fatal(err)
	}
	if c.CorrelationID() != "4bf92f35-77b3-4da6-a3ce-929d0e0e4736" {
		t.Fatalf("unexpected correlation id %s", c.CorrelationID())
	}
	if c.ParentID() != "00f067aa0ba902b7" {
		t.Fatalf("unexpected parent id %s", c.ParentID())
	}
}

func TestFromTraceContext_Invalid(t *testing.T) {
	for _, header := range []string{"", "garbage", "00-00000000000000000000000000000000-00f067aa0ba902b7-01", "00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01"} {
		t.Run(header, func(t *testing.T) {
			_, err := New(Options{FromTraceContext: &TraceContext{Traceparent: header}})
			if !errors.Is(err, ErrInvalidTraceparent) {
				t.Fatalf("expected ErrInvalidTraceparent, got %v", err)
			}
		})
	}
}

func TestFitHex_PadsAndTruncates(t *testing.T) {
	if got := fitHex("abc", 8); got != "abc00000" {
		t.Fatalf("expected padding, got %s", got)
	}
	if got := fitHex("0123-4567-89ab-cdef-0123", 16); got != "0123456789abcdef" {
		t.Fatalf("expected truncation, got %s", got)
	}
	if got := fitHex("ZZ-AB", 4); got != "ab00" {
		t.Fatalf("expected non-hex dropped, got %s", got)
	}
}

func TestContextWith_CarriesOtelSpanContext(t *testing.T) {
	c := NewRoot("cascade")
	ctx := ContextWith(context.Background(), c)

	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		t.Fatalf("expected valid otel span context")
	}
	if sc.TraceID().String() != fitHex(c.CorrelationID(), 32) {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
}
