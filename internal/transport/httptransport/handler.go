package httptransport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/awmpietro/golang-cascade-escalation/internal/app"
	"github.com/awmpietro/golang-cascade-escalation/internal/transport/cascadedto"
)

const maxBody = 1 << 20

type Handler struct {
	svc app.CascadeService
}

func NewHandler(svc app.CascadeService) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the cascade routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cascade", h.Run)
	mux.HandleFunc("GET /runs", h.Runs)
	mux.HandleFunc("GET /runs/{id}", h.GetRun)
	mux.HandleFunc("POST /events/{noun}/{event}", h.Dispatch)
}

func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	var in cascadedto.RunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()})
		return
	}

	out, err := h.svc.Run(r.Context(), in.ToApp(r.Header.Get(cascadedto.TraceparentHeader)))
	if out != nil && out.Traceparent != "" {
		w.Header().Set(cascadedto.TraceparentHeader, out.Traceparent)
	}
	if err != nil {
		writeJSON(w, cascadedto.StatusFor(err), cascadedto.ErrorBody("cascade failed", err, out))
		return
	}
	writeJSON(w, http.StatusOK, cascadedto.NewRunResponse(out, in.Debug))
}

func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit", "details": raw})
			return
		}
		limit = n
	}

	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		writeJSON(w, cascadedto.StatusFor(err), cascadedto.ErrorBody("list runs failed", err, nil))
		return
	}
	writeJSON(w, http.StatusOK, cascadedto.RunsResponse{Runs: runs})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, cascadedto.StatusFor(err), cascadedto.ErrorBody("get run failed", err, nil))
		return
	}
	writeJSON(w, http.StatusOK, cascadedto.RunDetailResponse{Run: detail.Run, Events: detail.Events})
}

func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body", "details": err.Error()})
		return
	}

	noun, event := r.PathValue("noun"), r.PathValue("event")
	results, err := h.svc.Dispatch(r.Context(), noun, event, payload)
	if err != nil {
		writeJSON(w, cascadedto.StatusFor(err), cascadedto.ErrorBody("dispatch failed", err, nil))
		return
	}
	writeJSON(w, http.StatusOK, cascadedto.DispatchResponse{Noun: noun, Event: event, Results: results})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
