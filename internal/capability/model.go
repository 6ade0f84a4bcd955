// Package capability holds the model and human capabilities handed to cascade tiers.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

var ErrModelUnavailable = errors.New("model capability unavailable")

// HTTPModel calls a JSON model endpoint:
//
//	POST {prompt, cascade, input, previous_errors} -> {output} or {error}
//
// It carries the caller's traceparent so the model side can join the trace.
type HTTPModel struct {
	URL    string
	Client *http.Client
	Header http.Header
}

type modelRequest struct {
	Cascade        string          `json:"cascade"`
	Prompt         string          `json:"prompt"`
	Input          any             `json:"input"`
	PreviousErrors []previousError `json:"previous_errors"`
}

type previousError struct {
	Tier    string `json:"tier"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

type modelResponse struct {
	Output any    `json:"output"`
	Error  string `json:"error,omitempty"`
}

func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	return &HTTPModel{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (m *HTTPModel) Invoke(ctx context.Context, req cascade.ModelRequest) (any, error) {
	body := modelRequest{
		Cascade:        req.Cascade,
		Prompt:         req.Prompt,
		Input:          req.Input,
		PreviousErrors: make([]previousError, 0, len(req.PreviousErrors)),
	}
	for _, e := range req.PreviousErrors {
		body.PreviousErrors = append(body.PreviousErrors, previousError{Tier: e.Tier, Error: e.Err.Error(), Attempt: e.Attempt})
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	for k, vs := range m.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tc, ok := trace.FromContext(ctx); ok {
		if tp, err := tc.ToTraceContext(); err == nil {
			httpReq.Header.Set("traceparent", tp.Traceparent)
		}
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}

	var out modelResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		if out.Error != "" {
			return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, out.Error)
		}
		return nil, fmt.Errorf("model returned %d", resp.StatusCode)
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}
	return out.Output, nil
}

// Unavailable is the model capability used when none is configured: model tiers fail
// with ErrModelUnavailable and the cascade escalates past them.
type Unavailable struct{}

func (Unavailable) Invoke(context.Context, cascade.ModelRequest) (any, error) {
	return nil, ErrModelUnavailable
}
