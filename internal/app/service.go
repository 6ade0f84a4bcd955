// Package app wires pipelines, the cascade executor and the run store together.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnknownPipeline = errors.New("unknown pipeline")
)

type Compiler interface {
	Compile(dot string) (*pipeline.Pipeline, error)
}

type Cache interface {
	GetOrCompute(dot string, fn func() (*pipeline.Pipeline, error)) (*pipeline.Pipeline, error)
}

type Executor interface {
	Run(ctx context.Context, tiers []cascade.Tier, input any, cfg cascade.Config) (*cascade.Result, error)
}

type Service struct {
	compiler Compiler
	cache    Cache
	executor Executor

	store        store.Store
	sink         audit.Sink
	logger       *slog.Logger
	pipelines    map[string]string
	actor        string
	totalTimeout time.Duration
	timeouts     map[string]time.Duration

	registrars []func(b *RegistryBuilder)
	handlers   Registry
}

type Option func(*Service)

func WithStore(st store.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithAuditSink adds a sink next to the store's own event sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPipelines registers DOT pipelines that requests may refer to by name.
func WithPipelines(p map[string]string) Option {
	return func(s *Service) {
		for k, v := range p {
			s.pipelines[k] = v
		}
	}
}

func WithActor(actor string) Option {
	return func(s *Service) { s.actor = actor }
}

func WithTotalTimeout(d time.Duration) Option {
	return func(s *Service) { s.totalTimeout = d }
}

func WithTierTimeouts(m map[string]time.Duration) Option {
	return func(s *Service) { s.timeouts = m }
}

// WithHandlers adds event handlers to the registration table.
func WithHandlers(register func(b *RegistryBuilder)) Option {
	return func(s *Service) { s.registrars = append(s.registrars, register) }
}

func NewService(compiler Compiler, executor Executor, cache Cache, opts ...Option) *Service {
	s := &Service{
		compiler:  compiler,
		cache:     cache,
		executor:  executor,
		store:     store.NewMemory(),
		logger:    slog.New(slog.DiscardHandler),
		pipelines: map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}

	b := NewRegistryBuilder().On("cascade", "run", s.runHandler)
	for _, register := range s.registrars {
		register(b)
	}
	s.handlers = b.Build()
	return s
}

// Run compiles the pipeline (cached), runs it as a cascade and stores the outcome.
// A terminal cascade failure returns both the outcome, with the partial history,
// and the cascade error.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	dot, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	p, err := s.cache.GetOrCompute(dot, func() (*pipeline.Pipeline, error) {
		return s.compiler.Compile(dot)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	tc, err := s.traceFor(p.Name, req.Traceparent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	actor := req.Actor
	if actor == "" {
		actor = s.actor
	}
	events := audit.Multi(store.EventSink(s.store), s.sink)
	cfg := cascade.Config{
		Name:         p.Name,
		Timeouts:     s.timeouts,
		TotalTimeout: s.totalTimeout,
		TierConfig:   p.TierConfig(),
		Actor:        actor,
		Trace:        tc,
		OnEvent:      events.Emit,
	}

	res, runErr := s.executor.Run(ctx, p.Tiers(), req.Input, cfg)

	run := store.NewRun(p.Name, res, runErr)
	if run.CorrelationID == "" {
		sc := tc.Serialize()
		run.Context = &sc
		run.CorrelationID = sc.CorrelationID
	}
	if err := s.store.Create(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error("persist run failed", slog.String("run_id", run.ID), slog.String("cascade", p.Name), slog.Any("err", err))
	}

	out := &RunOutcome{
		RunID:   run.ID,
		Cascade: p.Name,
		Result:  res,
		History: run.History,
	}
	if tp, err := tc.ToTraceContext(); err == nil {
		out.Traceparent = tp.Traceparent
	}
	if req.Debug {
		timeline := run.History
		if res != nil {
			timeline = res.Timeline()
		}
		if out.DOT, err = pipeline.Render(p, timeline); err != nil {
			s.logger.Warn("render run failed", slog.String("run_id", run.ID), slog.Any("err", err))
		}
	}

	if runErr != nil {
		s.logger.Info("cascade failed", slog.String("run_id", run.ID), slog.String("cascade", p.Name), slog.String("status", string(run.Status)), slog.Any("err", runErr))
		return out, runErr
	}
	s.logger.Debug("cascade completed", slog.String("run_id", run.ID), slog.String("cascade", p.Name), slog.String("tier", res.Tier))
	return out, nil
}

func (s *Service) resolve(req RunRequest) (string, error) {
	switch {
	case req.PipelineDOT != "":
		return req.PipelineDOT, nil
	case req.Pipeline != "":
		dot, ok := s.pipelines[req.Pipeline]
		if !ok {
			return "", fmt.Errorf("%w: %w %q", ErrInvalidRequest, ErrUnknownPipeline, req.Pipeline)
		}
		return dot, nil
	}
	return "", fmt.Errorf("%w: pipeline or pipeline_dot is required", ErrInvalidRequest)
}

func (s *Service) traceFor(name, traceparent string) (*trace.Context, error) {
	if traceparent == "" {
		return trace.NewRoot(name), nil
	}
	return trace.New(trace.Options{Name: name, FromTraceContext: &trace.TraceContext{Traceparent: traceparent}})
}

func (s *Service) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	return s.store.List(ctx, limit)
}

func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	evs, err := s.store.Events(ctx, run.CorrelationID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Events: ownEvents(run, evs)}, nil
}

// ownEvents keeps the events of run's own span. Runs continuing one traceparent share a
// correlation id, so the store returns all of their events together.
func ownEvents(run store.Run, evs []audit.Event) []audit.Event {
	if run.Context == nil || run.Context.SpanID == "" {
		return evs
	}
	out := evs[:0]
	for _, ev := range evs {
		if ev.SpanID == run.Context.SpanID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Service) Dispatch(ctx context.Context, noun, event string, payload []byte) ([]any, error) {
	return s.handlers.Dispatch(ctx, noun, event, payload)
}

type runPayload struct {
	Pipeline    string `json:"pipeline"`
	PipelineDOT string `json:"pipeline_dot"`
	Input       any    `json:"input"`
	Traceparent string `json:"traceparent"`
	Actor       string `json:"actor"`
}

// runHandler serves the cascade.run event. Terminal cascade failures are part of the
// result, not handler errors.
func (s *Service) runHandler(ctx context.Context, payload []byte) (any, error) {
	var in runPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	out, err := s.Run(ctx, RunRequest{
		Pipeline:    in.Pipeline,
		PipelineDOT: in.PipelineDOT,
		Input:       in.Input,
		Traceparent: in.Traceparent,
		Actor:       in.Actor,
	})
	if out == nil {
		return nil, err
	}
	summary := map[string]any{"run_id": out.RunID, "cascade": out.Cascade}
	if err != nil {
		summary["error"] = err.Error()
		return summary, nil
	}
	summary["tier"] = out.Result.Tier
	summary["value"] = out.Result.Value
	return summary, nil
}
