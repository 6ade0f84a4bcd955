package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() }) //nolint:errcheck
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func sampleRun(id string, at time.Time) Run {
	return Run{
		ID:            id,
		Cascade:       "loan",
		CorrelationID: "corr-" + id,
		Status:        StatusSucceeded,
		Tier:          "generative",
		Value:         map[string]any{"approved": true},
		History: []cascade.TierRecord{
			{Tier: "code", Err: errors.New("no rule"), StartedAt: at, Duration: time.Millisecond, Attempts: 1},
			{Tier: "generative", Value: map[string]any{"approved": true}, StartedAt: at, Duration: 2 * time.Millisecond, Success: true, Attempts: 1},
		},
		Context:   &trace.Serialized{CorrelationID: "corr-" + id, SpanID: "s", Steps: []trace.SerializedStep{}, Path: []string{"code", "generative"}},
		CreatedAt: at,
	}
}

func TestStore_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.Create(ctx, sampleRun("r1", now)); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := st.Create(ctx, sampleRun("r1", now)); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			got, err := st.Get(ctx, "r1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Cascade != "loan" || got.Status != StatusSucceeded || got.Tier != "generative" {
				t.Fatalf("unexpected run: %+v", got)
			}
			if !got.CreatedAt.Equal(now) {
				t.Fatalf("expected created_at %v, got %v", now, got.CreatedAt)
			}
			if v, ok := got.Value.(map[string]any); !ok || v["approved"] != true {
				t.Fatalf("unexpected value: %#v", got.Value)
			}
			if len(got.History) != 2 || got.History[0].Err == nil || got.History[0].Err.Error() != "no rule" || !got.History[1].Success {
				t.Fatalf("unexpected history: %+v", got.History)
			}
			if got.Context == nil || got.Context.CorrelationID != "corr-r1" || len(got.Context.Path) != 2 {
				t.Fatalf("unexpected context: %+v", got.Context)
			}

			if err := st.Delete(ctx, "r1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := st.Get(ctx, "r1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := st.Delete(ctx, "r1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			// Sub-second offsets catch text ordering that ignores fractional seconds.
			for i, id := range []string{"a", "b", "c"} {
				if err := st.Create(ctx, sampleRun(id, base.Add(time.Duration(i)*100*time.Millisecond))); err != nil {
					t.Fatalf("create %s: %v", id, err)
				}
			}

			all, err := st.List(ctx, 0)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 || all[0].ID != "c" || all[1].ID != "b" || all[2].ID != "a" {
				t.Fatalf("unexpected order: %v", ids(all))
			}

			two, err := st.List(ctx, 2)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(two) != 2 || two[0].ID != "c" {
				t.Fatalf("unexpected limited list: %v", ids(two))
			}
		})
	}
}

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	when := time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC)
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sink := EventSink(st)
			sink.OnError = func(_ audit.Event, err error) { t.Errorf("append: %v", err) }

			sink.Emit(audit.Event{Who: "system", What: audit.CascadeAction, When: when, Where: "loan", CorrelationID: "c1", SpanID: "s1", How: audit.How{Status: audit.StatusStarted}})
			sink.Emit(audit.Event{Who: "system", What: "code", When: when, Where: "loan", Why: "no rule", CorrelationID: "c1", SpanID: "s1", How: audit.How{Status: audit.StatusFailed, DurationMicros: 12, Attempt: 1}})
			sink.Emit(audit.Event{Who: "system", What: audit.CascadeAction, When: when, Where: "other", CorrelationID: "c2", SpanID: "s2", How: audit.How{Status: audit.StatusStarted}})

			evs, err := st.Events(ctx, "c1")
			if err != nil {
				t.Fatalf("events: %v", err)
			}
			if len(evs) != 2 {
				t.Fatalf("expected 2 events, got %d", len(evs))
			}
			if evs[0].How.Status != audit.StatusStarted || evs[1].What != "code" || evs[1].Why != "no rule" {
				t.Fatalf("unexpected events: %+v", evs)
			}
			if evs[1].How.DurationMicros != 12 || evs[1].How.Attempt != 1 || !evs[1].When.Equal(when) {
				t.Fatalf("event fields lost: %+v", evs[1])
			}

			none, err := st.Events(ctx, "missing")
			if err != nil || len(none) != 0 {
				t.Fatalf("expected no events, got %v, %v", none, err)
			}
		})
	}
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close() //nolint:errcheck

	if err := ApplyMigrations(ctx, st.DB()); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	v, err := SchemaVersion(ctx, st.DB())
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("expected version %d, got %d", len(migrations), v)
	}
}

func TestNewRun(t *testing.T) {
	res := &cascade.Result{
		Value:   "ok",
		Tier:    "code",
		History: []cascade.TierRecord{{Tier: "code", Value: "ok", Success: true}},
		Context: trace.Serialized{CorrelationID: "corr"},
	}
	ok := NewRun("loan", res, nil)
	if ok.ID == "" || ok.Status != StatusSucceeded || ok.Tier != "code" || ok.CorrelationID != "corr" {
		t.Fatalf("unexpected run: %+v", ok)
	}

	history := []cascade.TierRecord{{Tier: "code", Err: errors.New("x")}}
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"all failed", &cascade.AllTiersFailedError{History: history}, StatusFailed},
		{"total timeout", &cascade.TotalTimeoutError{History: history}, StatusTimedOut},
		{"canceled", &cascade.CanceledError{Cause: context.Canceled, History: history}, StatusCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewRun("loan", nil, tt.err)
			if run.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, run.Status)
			}
			if run.Error == "" || len(run.History) != 1 {
				t.Fatalf("expected error and history, got %+v", run)
			}
		})
	}
}

func ids(runs []Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
