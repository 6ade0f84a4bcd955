package capability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

func TestHTTPModel_Invoke(t *testing.T) {
	var got modelRequest
	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing configured header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"output":{"approved":true}}`))
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL, time.Second)
	m.Header = http.Header{"Authorization": []string{"Bearer k"}}

	tc := trace.NewRoot("req")
	ctx := trace.ContextWith(context.Background(), tc)
	out, err := m.Invoke(ctx, cascade.ModelRequest{
		Cascade: "loan",
		Prompt:  "decide",
		Input:   map[string]any{"score": 1},
		PreviousErrors: []cascade.TierError{
			{Tier: "code", Err: errors.New("no rule"), Attempt: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if m, ok := out.(map[string]any); !ok || m["approved"] != true {
		t.Fatalf("unexpected output: %#v", out)
	}
	if got.Prompt != "decide" || got.Cascade != "loan" || len(got.PreviousErrors) != 1 || got.PreviousErrors[0].Error != "no rule" {
		t.Fatalf("unexpected request: %+v", got)
	}
	want, _ := tc.ToTraceContext()
	if traceparent != want.Traceparent {
		t.Fatalf("expected traceparent %q, got %q", want.Traceparent, traceparent)
	}
}

func TestHTTPModel_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"status with message", http.StatusBadGateway, `{"error":"upstream down"}`, "502: upstream down"},
		{"status without message", http.StatusInternalServerError, `{}`, "returned 500"},
		{"error in ok body", http.StatusOK, `{"error":"refused"}`, "refused"},
		{"not json", http.StatusOK, `nope`, "decode model response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTPModel(srv.URL, time.Second).Invoke(context.Background(), cascade.ModelRequest{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPModel_HonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPModel(srv.URL, 0).Invoke(ctx, cascade.ModelRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	if _, err := (Unavailable{}).Invoke(context.Background(), cascade.ModelRequest{}); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestQueueEscalator(t *testing.T) {
	var notified []Ticket
	q := NewQueueEscalator(func(t Ticket) { notified = append(notified, t) })

	out, err := q.Escalate(context.Background(), cascade.EscalationRequest{
		Cascade:       "loan",
		Tier:          "human",
		CorrelationID: "corr-1",
		Input:         42,
		Reasons: []cascade.TierError{
			{Tier: "code", Err: errors.New("no rule"), Attempt: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	resp := out.(map[string]any)
	if resp["status"] != StatusPendingReview {
		t.Fatalf("unexpected status: %v", resp["status"])
	}
	id := resp["ticket"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("ticket id should be a uuid: %v", err)
	}

	pending := q.Pending()
	if len(pending) != 1 || pending[0].ID != id || pending[0].CorrelationID != "corr-1" {
		t.Fatalf("unexpected pending: %+v", pending)
	}
	if len(pending[0].Reasons) != 1 || !strings.Contains(pending[0].Reasons[0], "no rule") {
		t.Fatalf("unexpected reasons: %v", pending[0].Reasons)
	}
	if len(notified) != 1 {
		t.Fatalf("expected one notification, got %d", len(notified))
	}

	if _, ok := q.Take(id); !ok {
		t.Fatalf("expected to take the ticket")
	}
	if _, ok := q.Take(id); ok {
		t.Fatalf("ticket taken twice")
	}
	if len(q.Pending()) != 0 {
		t.Fatalf("queue should be empty")
	}
}

func TestQueueEscalator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewQueueEscalator(nil).Escalate(ctx, cascade.EscalationRequest{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
