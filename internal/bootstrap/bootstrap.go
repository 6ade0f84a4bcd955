// Package bootstrap assembles the service stack shared by the binaries.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/awmpietro/golang-cascade-escalation/internal/app"
	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/capability"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/config"
	"github.com/awmpietro/golang-cascade-escalation/internal/metrics"
	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline"
	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline/cache"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
)

var ErrTicketNotFound = errors.New("ticket not found")

type Stack struct {
	Service  *app.Service
	Store    store.Store
	Tickets  *capability.QueueEscalator
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	closers []func() error
}

// Build wires config into a ready service. Close releases what Build opened.
// extra executor options are applied after the configured ones.
func Build(ctx context.Context, rt config.Runtime, logger *slog.Logger, extra ...cascade.ExecutorOption) (*Stack, error) {
	s := &Stack{Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(s.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.Metrics = m

	switch rt.StoreDriver {
	case config.StoreSQLite:
		sq, err := store.OpenSQLite(ctx, rt.StorePath)
		if err != nil {
			return nil, err
		}
		s.Store = sq
		s.closers = append(s.closers, sq.Close)
	default:
		s.Store = store.NewMemory()
	}

	var model cascade.ModelInvoker = capability.Unavailable{}
	if rt.ModelURL != "" {
		model = capability.NewHTTPModel(rt.ModelURL, rt.ModelTimeout)
	}
	s.Tickets = capability.NewQueueEscalator(func(t capability.Ticket) {
		logger.Info("review ticket opened",
			slog.String("ticket", t.ID),
			slog.String("cascade", t.Cascade),
			slog.String("correlation_id", t.CorrelationID),
		)
	})

	latency := cascade.NewAsyncTierObserver(tierObservers{cascade.NewTierLatencyLogger(logger), m}, rt.ObsBuffer)
	auditLog := audit.NewAsyncSink(audit.NewLogSink(logger), rt.ObsBuffer)
	s.closers = append(s.closers,
		func() error { latency.Close(); return nil },
		func() error { auditLog.Close(); return nil },
	)

	opts := []cascade.ExecutorOption{
		cascade.WithCapabilities(cascade.Capabilities{Model: model, Human: s.Tickets}),
		cascade.WithTierObserver(latency),
		cascade.WithAuditSink(audit.Multi(auditLog, m)),
	}
	exec := cascade.NewExecutor(append(opts, extra...)...)

	s.Service = app.NewService(pipeline.NewCompiler(), exec, cache.NewInMemory(rt.CacheMaxItems),
		app.WithStore(s.Store),
		app.WithLogger(logger),
		app.WithPipelines(rt.Pipelines),
		app.WithActor(rt.Actor),
		app.WithTotalTimeout(rt.TotalTimeout),
		app.WithTierTimeouts(rt.TierTimeouts),
		app.WithHandlers(s.ticketHandlers),
	)
	return s, nil
}

// Close runs the closers in reverse order and joins their errors.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

type ticketPayload struct {
	ID string `json:"id"`
}

// ticketHandlers lets reviewers list and take pending human escalations.
func (s *Stack) ticketHandlers(b *app.RegistryBuilder) {
	b.On("ticket", "list", func(context.Context, []byte) (any, error) {
		return s.Tickets.Pending(), nil
	}).On("ticket", "take", func(_ context.Context, payload []byte) (any, error) {
		var in ticketPayload
		if err := json.Unmarshal(payload, &in); err != nil || in.ID == "" {
			return nil, fmt.Errorf("%w: ticket id is required", app.ErrInvalidRequest)
		}
		t, ok := s.Tickets.Take(in.ID)
		if !ok {
			// Wrapping store.ErrNotFound lets transports answer 404.
			return nil, fmt.Errorf("%w: %s: %w", ErrTicketNotFound, in.ID, store.ErrNotFound)
		}
		return t, nil
	})
}

type tierObservers []cascade.TierObserver

func (o tierObservers) ObserveTier(tier string, outcome cascade.Outcome, d time.Duration) {
	for _, obs := range o {
		obs.ObserveTier(tier, outcome, d)
	}
}

func (o tierObservers) ObserveEscalation(from, to string) {
	for _, obs := range o {
		if eo, ok := obs.(cascade.EscalationObserver); ok {
			eo.ObserveEscalation(from, to)
		}
	}
}
