package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

type Executor struct {
	runner   StepRunner
	caps     Capabilities
	observer TierObserver
	sink     audit.Sink
	timeouts map[string]time.Duration
}

type ExecutorOption func(*Executor)

// WithDurable routes every tier attempt and backoff sleep through runner.
func WithDurable(runner StepRunner) ExecutorOption {
	return func(e *Executor) {
		e.runner = runner
	}
}

func WithCapabilities(caps Capabilities) ExecutorOption {
	return func(e *Executor) {
		e.caps = caps
	}
}

func WithTierObserver(observer TierObserver) ExecutorOption {
	return func(e *Executor) {
		e.observer = observer
	}
}

// WithAuditSink receives every event of every run, in addition to Config.OnEvent.
func WithAuditSink(sink audit.Sink) ExecutorOption {
	return func(e *Executor) {
		e.sink = sink
	}
}

// WithDefaultTimeouts sits between Config.Timeouts and the built-in table.
func WithDefaultTimeouts(timeouts map[string]time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeouts = timeouts
	}
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run tries tiers in order until one succeeds. Tier failures and tier timeouts escalate;
// only running out of tiers, the total timeout and cancellation of ctx end the run with
// an error, and those errors carry the history of what was tried.
func (e *Executor) Run(ctx context.Context, tiers []Tier, input any, cfg Config) (*Result, error) {
	if err := validateTiers(tiers); err != nil {
		return nil, err
	}

	tc := cfg.Trace
	if tc == nil {
		var err error
		tc, err = trace.New(trace.Options{Name: cfg.name(), Parent: cfg.Parent})
		if err != nil {
			return nil, fmt.Errorf("create cascade context: %w", err)
		}
	}

	var onEvent audit.Sink
	if cfg.OnEvent != nil {
		onEvent = audit.SinkFunc(cfg.OnEvent)
	}

	r := &run{
		exec:   e,
		cfg:    cfg,
		name:   cfg.name(),
		parent: ctx,
		trace:  tc,
		input:  input,
		start:  time.Now(),
		emit: audit.NewEmitter(audit.Multi(e.sink, onEvent), audit.Scope{
			Actor:         cfg.Actor,
			Where:         cfg.name(),
			CorrelationID: tc.CorrelationID(),
			SpanID:        tc.SpanID(),
		}),
	}

	var cancel context.CancelFunc = func() {}
	r.ctx = ctx
	if cfg.TotalTimeout > 0 {
		r.ctx, cancel = context.WithDeadline(ctx, r.start.Add(cfg.TotalTimeout))
	}
	defer cancel()

	return r.execute(tiers)
}

// run is the state of one cascade invocation. It is owned by a single goroutine.
type run struct {
	exec   *Executor
	cfg    Config
	name   string
	parent context.Context
	ctx    context.Context
	trace  *trace.Context
	emit   *audit.Emitter
	input  any
	start  time.Time

	history []TierRecord
	errs    []TierError
}

func (r *run) execute(tiers []Tier) (*Result, error) {
	r.emit.CascadeStarted(tierNames(tiers))

	winner := -1
	for i, tier := range tiers {
		if err := r.checkBudget(); err != nil {
			return nil, err
		}
		if i > 0 {
			prev := r.errs[len(r.errs)-1]
			r.emit.Escalated(prev.Tier, tier.Name, prev.Err)
			if eo, ok := r.exec.observer.(EscalationObserver); ok {
				eo.ObserveEscalation(prev.Tier, tier.Name)
			}
		}

		rec, abort := r.runTier(i, tier)
		r.history = append(r.history, rec)
		switch {
		case errors.Is(abort, ErrTotalTimeout):
			return nil, r.totalTimeout()
		case abort != nil:
			return nil, r.canceled(abort)
		}
		if rec.Success {
			winner = i
			break
		}
	}

	if winner < 0 {
		err := &AllTiersFailedError{Errors: r.tierErrors(), History: r.historyCopy()}
		r.emit.CascadeAborted(err, time.Since(r.start))
		return nil, err
	}

	res := &Result{
		Value:        r.history[winner].Value,
		Tier:         tiers[winner].Name,
		History:      r.historyCopy(),
		SkippedTiers: tierNames(tiers[winner+1:]),
		Metrics:      r.metrics(),
	}

	if r.cfg.ResultMerger != nil {
		v, err := r.cfg.ResultMerger(r.historyCopy())
		if err != nil {
			err = fmt.Errorf("merge results: %w", err)
			r.emit.CascadeAborted(err, res.Metrics.TotalDuration)
			return nil, err
		}
		res.Value = v
	}

	res.Context = r.trace.Serialize()
	r.emit.CascadeCompleted(res.Tier, res.Metrics.TotalDuration)
	return res, nil
}

// checkBudget ends the run before a tier starts when the caller gave up or the total
// timeout is already spent.
func (r *run) checkBudget() error {
	if err := r.parent.Err(); err != nil {
		return r.canceled(err)
	}
	if r.cfg.TotalTimeout > 0 && (time.Since(r.start) > r.cfg.TotalTimeout || r.ctx.Err() != nil) {
		return r.totalTimeout()
	}
	return nil
}

// runTier returns the tier's record and, when the whole run has to stop, the reason.
func (r *run) runTier(idx int, tier Tier) (TierRecord, error) {
	tcfg := r.cfg.TierConfig[tier.Name]
	timeout := r.cfg.timeoutFor(tier.Name, r.exec.timeouts)

	md := make(map[string]any, len(tcfg.Metadata)+2)
	for k, v := range tcfg.Metadata {
		md[k] = v
	}
	md["index"] = idx
	md["timeout_ms"] = timeout.Milliseconds()

	step := r.trace.RecordStep(tier.Name, md)
	r.emit.TierStarted(tier.Name, md)

	started := time.Now()
	tierCtx, cancel := context.WithTimeout(r.ctx, timeout)
	defer cancel()

	value, attempts, err := r.attempts(tierCtx, idx, tier, tcfg.Retry, timeout)
	rec := TierRecord{
		Tier:      tier.Name,
		Value:     value,
		StartedAt: started,
		Attempts:  attempts,
	}

	if err != nil {
		switch {
		case r.parent.Err() != nil:
			rec.Err = r.parent.Err()
		case errors.Is(err, ErrTotalTimeout), r.cfg.TotalTimeout > 0 && r.ctx.Err() != nil:
			rec.Err = ErrTotalTimeout
		case errors.Is(err, ErrTierTimeout):
			// A replayed attempt reports the timeout it recorded, not a live deadline.
			rec.Err = err
			rec.TimedOut = true
		case tierCtx.Err() != nil:
			rec.Err = fmt.Errorf("%w after %s", ErrTierTimeout, timeout)
			rec.TimedOut = true
		default:
			rec.Err = err
		}
	} else if tcfg.SuccessCondition != nil && !tcfg.SuccessCondition(value) {
		rec.Err = ErrConditionNotMet
	}
	rec.Duration = time.Since(started)

	if rec.Err == nil {
		rec.Success = true
		step.AddMetadata("attempts", attempts).Complete()
		r.emit.TierSucceeded(tier.Name, rec.Duration, attempts)
		r.observe(tier.Name, OutcomeSuccess, rec.Duration)
		return rec, nil
	}

	step.AddMetadata("attempts", attempts).Fail(rec.Err)
	r.errs = append(r.errs, TierError{Tier: tier.Name, Err: rec.Err, Attempt: attempts, At: time.Now()})

	if rec.TimedOut {
		r.emit.TierTimedOut(tier.Name, rec.Err, rec.Duration, attempts)
		r.observe(tier.Name, OutcomeTimeout, rec.Duration)
	} else {
		r.emit.TierFailed(tier.Name, rec.Err, rec.Duration, attempts)
		r.observe(tier.Name, OutcomeFailure, rec.Duration)
	}

	if err := r.parent.Err(); err != nil {
		return rec, err
	}
	if errors.Is(rec.Err, ErrTotalTimeout) {
		return rec, ErrTotalTimeout
	}

	if tcfg.OnError != nil {
		tcfg.OnError(tier.Name, rec.Err)
	}
	return rec, nil
}

// attempts runs the tier up to its retry limit. A retry only starts when its backoff
// still fits in the tier's deadline.
func (r *run) attempts(ctx context.Context, idx int, tier Tier, policy RetryPolicy, timeout time.Duration) (any, int, error) {
	var lastErr error
	n := 0
	for n < policy.attempts() {
		if n > 0 {
			delay := policy.DelayFor(n)
			if !r.retryFits(ctx, fmt.Sprintf("%s/%s/retry-%d", r.name, tier.Name, n), delay) {
				break
			}
			if err := r.sleep(ctx, fmt.Sprintf("%s/%s/backoff-%d", r.name, tier.Name, n), delay); err != nil {
				break
			}
		}
		n++

		v, err := r.attempt(ctx, idx, tier, n, timeout)
		if err == nil {
			return v, n, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrTierTimeout) || errors.Is(err, ErrTotalTimeout) {
			break
		}
	}
	return nil, n, lastErr
}

// retryFits reports whether a backoff of d ends before the tier's deadline. Under a
// step runner the answer is recorded, so a replay retries exactly as often as the
// original run did.
func (r *run) retryFits(ctx context.Context, name string, d time.Duration) bool {
	fits := func(ctx context.Context) (any, error) {
		dl, ok := ctx.Deadline()
		return !ok || !time.Now().Add(d).After(dl), nil
	}
	if r.exec.runner == nil {
		ok, _ := fits(ctx)
		return ok.(bool)
	}
	v, err := r.exec.runner.Execute(ctx, name, StepConfig{}, fits)
	ok, _ := v.(bool)
	return err == nil && ok
}

func (r *run) attempt(ctx context.Context, idx int, tier Tier, n int, timeout time.Duration) (any, error) {
	tc := TierContext{
		Cascade:        r.name,
		Tier:           tier.Name,
		Index:          idx,
		Attempt:        n,
		PreviousErrors: r.tierErrors(),
		Trace:          r.trace.Child(tier.Name),
		Capabilities:   r.exec.caps,
	}
	// Deadlines become timeout outcomes here so a step runner records them like any
	// other failure. Only the caller's cancellation stays a bare context error.
	work := func(ctx context.Context) (any, error) {
		v, err := race(trace.ContextWith(ctx, tc.Trace), tier.Run, r.input, tc)
		if err == nil || ctx.Err() == nil || r.parent.Err() != nil {
			return v, err
		}
		if r.cfg.TotalTimeout > 0 && r.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrTotalTimeout, tier.Name, err)
		}
		return nil, fmt.Errorf("%w after %s", ErrTierTimeout, timeout)
	}

	if r.exec.runner == nil {
		return work(ctx)
	}
	return r.exec.runner.Execute(ctx, fmt.Sprintf("%s/%s/attempt-%d", r.name, tier.Name, n), StepConfig{}, work)
}

type tierOutcome struct {
	value any
	err   error
}

// race runs fn on its own goroutine so a deadline can abandon it. A result that is
// ready when the deadline fires still wins.
func race(ctx context.Context, fn TierFunc, input any, tc TierContext) (any, error) {
	done := make(chan tierOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- tierOutcome{err: fmt.Errorf("tier %s panicked: %v", tc.Tier, p)}
			}
		}()
		v, err := fn(ctx, input, tc)
		done <- tierOutcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.value, o.err
		default:
		}
		return nil, ctx.Err()
	}
}

func (r *run) sleep(ctx context.Context, name string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if r.exec.runner != nil {
		return r.exec.runner.Sleep(ctx, name, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *run) observe(tier string, outcome Outcome, d time.Duration) {
	if r.exec.observer != nil {
		r.exec.observer.ObserveTier(tier, outcome, d)
	}
}

func (r *run) totalTimeout() error {
	err := &TotalTimeoutError{
		Limit:   r.cfg.TotalTimeout,
		Elapsed: time.Since(r.start),
		Errors:  r.tierErrors(),
		History: r.historyCopy(),
	}
	r.emit.CascadeAborted(err, err.Elapsed)
	return err
}

func (r *run) canceled(cause error) error {
	err := &CanceledError{
		Cause:   cause,
		Errors:  r.tierErrors(),
		History: r.historyCopy(),
	}
	r.emit.CascadeAborted(err, time.Since(r.start))
	return err
}

func (r *run) metrics() Metrics {
	m := Metrics{TierDurations: make(map[string]time.Duration, len(r.history))}
	var end time.Time
	for _, rec := range r.history {
		m.TierDurations[rec.Tier] = rec.Duration
		if done := rec.StartedAt.Add(rec.Duration); done.After(end) {
			end = done
		}
	}
	if !end.IsZero() {
		m.TotalDuration = end.Sub(r.start)
	}
	return m
}

func (r *run) tierErrors() []TierError {
	return append([]TierError{}, r.errs...)
}

func (r *run) historyCopy() []TierRecord {
	return append([]TierRecord{}, r.history...)
}
