// Package cascadedto holds the wire shapes shared by the HTTP and Lambda transports.
package cascadedto

import (
	"errors"
	"net/http"

	"github.com/awmpietro/golang-cascade-escalation/internal/app"
	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

const TraceparentHeader = "traceparent"

type RunRequest struct {
	Pipeline    string `json:"pipeline,omitempty"`
	PipelineDOT string `json:"pipeline_dot,omitempty"`
	Input       any    `json:"input"`
	Actor       string `json:"actor,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
}

func (r RunRequest) ToApp(traceparent string) app.RunRequest {
	return app.RunRequest{
		Pipeline:    r.Pipeline,
		PipelineDOT: r.PipelineDOT,
		Input:       r.Input,
		Actor:       r.Actor,
		Traceparent: traceparent,
		Debug:       r.Debug,
	}
}

type RunResponse struct {
	RunID        string               `json:"run_id"`
	Cascade      string               `json:"cascade"`
	Tier         string               `json:"tier"`
	Value        any                  `json:"value"`
	SkippedTiers []string             `json:"skipped_tiers"`
	Metrics      cascade.Metrics      `json:"metrics"`
	Context      trace.Serialized     `json:"context"`
	History      []cascade.TierRecord `json:"history,omitempty"`
	DOT          string               `json:"dot,omitempty"`
}

// NewRunResponse expects a successful outcome. History is only sent in debug mode.
func NewRunResponse(out *app.RunOutcome, debug bool) RunResponse {
	resp := RunResponse{
		RunID:        out.RunID,
		Cascade:      out.Cascade,
		Tier:         out.Result.Tier,
		Value:        out.Result.Value,
		SkippedTiers: out.Result.SkippedTiers,
		Metrics:      out.Result.Metrics,
		Context:      out.Result.Context,
		DOT:          out.DOT,
	}
	if resp.SkippedTiers == nil {
		resp.SkippedTiers = []string{}
	}
	if debug {
		resp.History = out.Result.History
	}
	return resp
}

type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

type RunDetailResponse struct {
	Run    store.Run     `json:"run"`
	Events []audit.Event `json:"events"`
}

type DispatchResponse struct {
	Noun    string `json:"noun"`
	Event   string `json:"event"`
	Results []any  `json:"results"`
}

// StatusFor maps service errors to HTTP status codes. Terminal cascade failures are
// 422: the request was valid, no tier could serve it.
func StatusFor(err error) int {
	if _, ok := cascade.HistoryOf(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, app.ErrNoHandler):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ErrorBody is {"error", "details"} plus, for a failed run, its id and history.
func ErrorBody(msg string, err error, out *app.RunOutcome) map[string]any {
	body := map[string]any{
		"error":   msg,
		"details": err.Error(),
	}
	if out != nil {
		body["run_id"] = out.RunID
		body["cascade"] = out.Cascade
		body["history"] = out.History
		if out.DOT != "" {
			body["dot"] = out.DOT
		}
	}
	return body
}
