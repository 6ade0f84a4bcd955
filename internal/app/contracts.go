package app

import (
	"context"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
)

// CascadeService is what the transports need from the service.
type CascadeService interface {
	Run(ctx context.Context, req RunRequest) (*RunOutcome, error)
	Runs(ctx context.Context, limit int) ([]store.Run, error)
	GetRun(ctx context.Context, id string) (*RunDetail, error)
	Dispatch(ctx context.Context, noun, event string, payload []byte) ([]any, error)
}

// RunRequest names a configured pipeline or carries its DOT source inline.
type RunRequest struct {
	Pipeline    string
	PipelineDOT string
	Input       any
	Traceparent string
	Actor       string
	// Debug asks for the pipeline rendered as DOT with the run's outcome.
	Debug bool
}

// RunOutcome is returned for successful runs and, next to the error, for terminal
// cascade failures so callers can report the partial history.
type RunOutcome struct {
	RunID       string
	Cascade     string
	Result      *cascade.Result
	History     []cascade.TierRecord
	Traceparent string
	DOT         string
}

type RunDetail struct {
	Run    store.Run
	Events []audit.Event
}
