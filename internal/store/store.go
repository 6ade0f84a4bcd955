// Package store persists finished cascade runs and their audit events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

var (
	ErrNotFound  = errors.New("run not found")
	ErrDuplicate = errors.New("run already exists")
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCanceled  Status = "canceled"
)

type Run struct {
	ID            string               `json:"id"`
	Cascade       string               `json:"cascade"`
	CorrelationID string               `json:"correlation_id"`
	Status        Status               `json:"status"`
	Tier          string               `json:"tier,omitempty"`
	Value         any                  `json:"value,omitempty"`
	Error         string               `json:"error,omitempty"`
	History       []cascade.TierRecord `json:"history"`
	Context       *trace.Serialized    `json:"context,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Store keeps runs by id and audit events by correlation id.
type Store interface {
	Create(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	// List returns the newest runs first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]Run, error)
	Delete(ctx context.Context, id string) error
	AppendEvent(ctx context.Context, ev audit.Event) error
	Events(ctx context.Context, correlationID string) ([]audit.Event, error)
}

// NewRun builds the stored form of a cascade outcome. Exactly one of res and err is
// expected to be set; a terminal error keeps the partial history it carries.
func NewRun(name string, res *cascade.Result, err error) Run {
	run := Run{
		ID:        uuid.NewString(),
		Cascade:   name,
		CreatedAt: time.Now().UTC(),
	}
	if err == nil && res != nil {
		run.Status = StatusSucceeded
		run.Tier = res.Tier
		run.Value = res.Value
		run.History = res.History
		sc := res.Context
		run.Context = &sc
		run.CorrelationID = sc.CorrelationID
		return run
	}

	run.Status = StatusFailed
	switch {
	case errors.Is(err, cascade.ErrTotalTimeout):
		run.Status = StatusTimedOut
	case errors.Is(err, cascade.ErrCanceled):
		run.Status = StatusCanceled
	}
	if err != nil {
		run.Error = err.Error()
	}
	if h, ok := cascade.HistoryOf(err); ok {
		run.History = h
	}
	return run
}
