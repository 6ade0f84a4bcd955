package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/bootstrap"
	"github.com/awmpietro/golang-cascade-escalation/internal/config"
	httptransport "github.com/awmpietro/golang-cascade-escalation/internal/transport/httptransport"
)

const failingDOT = `digraph Rules { code [kind="expr", expr="nil"] }`

// modelServer approves scores of 600 and up and refuses the rest.
func modelServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Input struct {
				Score float64 `json:"score"`
			} `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Input.Score >= 600 {
			_, _ = io.WriteString(w, `{"output":{"approved":true,"by":"model"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"error":"model unsure"}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func approvalDOT(t *testing.T) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("..", "pipeline", "testdata", "approval.dot"))
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newCascadeServer(t *testing.T, driver string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	model := modelServer(t, calls)

	rt := config.Runtime{
		Actor:         "integration",
		TierTimeouts:  map[string]time.Duration{},
		StoreDriver:   driver,
		StorePath:     filepath.Join(t.TempDir(), "runs.db"),
		CacheMaxItems: 64,
		ObsBuffer:     64,
		ModelURL:      model.URL,
		ModelTimeout:  2 * time.Second,
		Pipelines:     map[string]string{"approval": approvalDOT(t)},
	}
	stack, err := bootstrap.Build(context.Background(), rt, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = stack.Close() })

	mux := http.NewServeMux()
	httptransport.NewHandler(stack.Service).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, calls
}

func do(t *testing.T, method, url string, body any, header http.Header) (int, map[string]any, http.Header) {
	t.Helper()
	status, out, h, err := doNoFatal(method, url, body, header)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return status, out, h
}

func doNoFatal(method, url string, body any, header http.Header) (int, map[string]any, http.Header, error) {
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return 0, nil, nil, err
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out, resp.Header, nil
}

func TestHTTPCascade_ResolvesAtEachTier(t *testing.T) {
	for _, driver := range []string{config.StoreMemory, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			srv, calls := newCascadeServer(t, driver)

			tests := []struct {
				name       string
				score      int
				wantTier   string
				wantCalls  int32
				wantSkip   int
				wantStatus string
			}{
				{name: "rules", score: 720, wantTier: "code", wantCalls: 0, wantSkip: 2},
				{name: "model", score: 650, wantTier: "generative", wantCalls: 1, wantSkip: 1},
				{name: "human", score: 400, wantTier: "human", wantCalls: 3, wantSkip: 0, wantStatus: "pending_review"},
			}
			for _, tc := range tests {
				t.Run(tc.name, func(t *testing.T) {
					before := calls.Load()
					status, out, _ := do(t, http.MethodPost, srv.URL+"/cascade", map[string]any{
						"pipeline": "approval",
						"input":    map[string]any{"score": tc.score},
					}, nil)
					if status != http.StatusOK {
						t.Fatalf("expected 200, got %d: %v", status, out)
					}
					if out["tier"] != tc.wantTier || out["cascade"] != "Approval" {
						t.Fatalf("unexpected resolution: %v", out)
					}
					if got := calls.Load() - before; got != tc.wantCalls {
						t.Fatalf("expected %d model calls, got %d", tc.wantCalls, got)
					}
					if skipped, _ := out["skipped_tiers"].([]any); len(skipped) != tc.wantSkip {
						t.Fatalf("expected %d skipped tiers, got %v", tc.wantSkip, out["skipped_tiers"])
					}
					if tc.wantStatus != "" {
						value, _ := out["value"].(map[string]any)
						if value["status"] != tc.wantStatus {
							t.Fatalf("expected status %s, got %v", tc.wantStatus, out["value"])
						}
					}
				})
			}

			status, out, _ := do(t, http.MethodGet, srv.URL+"/runs", nil, nil)
			if status != http.StatusOK {
				t.Fatalf("expected 200, got %d", status)
			}
			if runs, _ := out["runs"].([]any); len(runs) != 3 {
				t.Fatalf("expected 3 runs, got %v", out["runs"])
			}

			status, out, _ = do(t, http.MethodPost, srv.URL+"/events/ticket/list", "", nil)
			if status != http.StatusOK {
				t.Fatalf("expected 200, got %d: %v", status, out)
			}
			results, _ := out["results"].([]any)
			if len(results) != 1 {
				t.Fatalf("expected one handler result, got %v", out)
			}
			if tickets, _ := results[0].([]any); len(tickets) != 1 {
				t.Fatalf("expected one pending ticket, got %v", results[0])
			}
		})
	}
}

func TestHTTPCascade_RunDetailHasHistoryAndEvents(t *testing.T) {
	srv, _ := newCascadeServer(t, config.StoreSQLite)

	status, out, _ := do(t, http.MethodPost, srv.URL+"/cascade", map[string]any{
		"pipeline": "approval",
		"input":    map[string]any{"score": 650},
		"debug":    true,
	}, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, out)
	}
	if history, _ := out["history"].([]any); len(history) != 2 {
		t.Fatalf("expected 2 history records in debug mode, got %v", out["history"])
	}
	if dot, _ := out["dot"].(string); !strings.Contains(dot, "forestgreen") {
		t.Fatalf("expected rendered DOT, got %q", dot)
	}

	runID, _ := out["run_id"].(string)
	status, detail, _ := do(t, http.MethodGet, srv.URL+"/runs/"+runID, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	run, _ := detail["run"].(map[string]any)
	if run["status"] != "succeeded" || run["tier"] != "generative" {
		t.Fatalf("unexpected run: %v", run)
	}
	events, _ := detail["events"].([]any)
	if len(events) == 0 {
		t.Fatalf("expected audit events for the run")
	}
	last, _ := events[len(events)-1].(map[string]any)
	how, _ := last["how"].(map[string]any)
	if last["who"] != "integration" || how["status"] != "completed" {
		t.Fatalf("unexpected last event: %v", last)
	}

	status, _, _ = do(t, http.MethodGet, srv.URL+"/runs/missing", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestHTTPCascade_TraceparentRoundTrip(t *testing.T) {
	srv, _ := newCascadeServer(t, config.StoreMemory)

	const tp = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	status, out, header := do(t, http.MethodPost, srv.URL+"/cascade", map[string]any{
		"pipeline": "approval",
		"input":    map[string]any{"score": 720},
	}, http.Header{"Traceparent": {tp}})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", status, out)
	}
	echoed := header.Get("traceparent")
	if !strings.HasPrefix(echoed, "00-4bf92f3577b34da6a3ce929d0e0e4736-") {
		t.Fatalf("expected the trace id to carry over, got %q", echoed)
	}
	ctx, _ := out["context"].(map[string]any)
	if ctx["correlationId"] != "4bf92f35-77b3-4da6-a3ce-929d0e0e4736" {
		t.Fatalf("unexpected context: %v", ctx)
	}
}

func TestHTTPCascade_Errors(t *testing.T) {
	srv, _ := newCascadeServer(t, config.StoreMemory)

	tests := []struct {
		name        string
		body        any
		header      http.Header
		wantStatus  int
		wantDetails string
	}{
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "invalid dot", body: map[string]any{"pipeline_dot": "digraph { a -> ", "input": map[string]any{}}, wantStatus: http.StatusBadRequest, wantDetails: "parse DOT"},
		{name: "cycle", body: map[string]any{"pipeline_dot": `digraph { a [kind="human"]; b [kind="human"]; a -> b; b -> a }`, "input": map[string]any{}}, wantStatus: http.StatusBadRequest, wantDetails: "cycle"},
		{name: "unknown pipeline", body: map[string]any{"pipeline": "nope", "input": map[string]any{}}, wantStatus: http.StatusBadRequest},
		{name: "bad traceparent", body: map[string]any{"pipeline": "approval", "input": map[string]any{}}, header: http.Header{"Traceparent": {"garbage"}}, wantStatus: http.StatusBadRequest},
		{name: "all tiers failed", body: map[string]any{"pipeline_dot": failingDOT, "input": map[string]any{}}, wantStatus: http.StatusUnprocessableEntity, wantDetails: "code"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, out, _ := do(t, http.MethodPost, srv.URL+"/cascade", tc.body, tc.header)
			if status != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %v", tc.wantStatus, status, out)
			}
			details, _ := out["details"].(string)
			if tc.wantDetails != "" && !strings.Contains(details, tc.wantDetails) {
				t.Fatalf("expected details to mention %q, got %q", tc.wantDetails, details)
			}
		})
	}

	t.Run("failed run is recorded", func(t *testing.T) {
		_, out, _ := do(t, http.MethodPost, srv.URL+"/cascade", map[string]any{"pipeline_dot": failingDOT, "input": map[string]any{}}, nil)
		runID, _ := out["run_id"].(string)
		if runID == "" {
			t.Fatalf("expected run id in failure body: %v", out)
		}
		_, detail, _ := do(t, http.MethodGet, srv.URL+"/runs/"+runID, nil, nil)
		run, _ := detail["run"].(map[string]any)
		if run["status"] != "failed" {
			t.Fatalf("expected failed run, got %v", run)
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		status, _, _ := do(t, http.MethodPost, srv.URL+"/events/nope/none", "", nil)
		if status != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", status)
		}
	})
}

func TestHTTPCascade_ConcurrentRequests(t *testing.T) {
	srv, _ := newCascadeServer(t, config.StoreSQLite)

	const n = 60
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			score := 720
			if i%2 == 1 {
				score = 650
			}
			status, out, _, err := doNoFatal(http.MethodPost, srv.URL+"/cascade", map[string]any{
				"pipeline": "approval",
				"input":    map[string]any{"score": score},
			}, nil)
			if err != nil {
				errs <- err
				return
			}
			if status != http.StatusOK || out["tier"] == nil {
				errs <- &integrationErr{msg: "unexpected response", body: out}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	_, out, _ := do(t, http.MethodGet, srv.URL+"/runs?limit=0", nil, nil)
	if runs, _ := out["runs"].([]any); len(runs) != n {
		t.Fatalf("expected %d stored runs, got %d", n, len(runs))
	}
}

type integrationErr struct {
	msg  string
	body map[string]any
}

func (e *integrationErr) Error() string {
	b, _ := json.Marshal(e.body)
	return e.msg + ": " + string(b)
}
