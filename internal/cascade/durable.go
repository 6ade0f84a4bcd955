package cascade

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type StepConfig struct {
	Retries int
	Timeout time.Duration
}

// StepRunner is the host's durable step executor. Execute must run work at most once per
// name and, after a restart, return the recorded outcome instead of running it again.
type StepRunner interface {
	Execute(ctx context.Context, name string, cfg StepConfig, work func(ctx context.Context) (any, error)) (any, error)
	Sleep(ctx context.Context, name string, d time.Duration) error
	SleepUntil(ctx context.Context, name string, t time.Time) error
}

type memo struct {
	value any
	err   error
}

// MemoRunner is a process-local StepRunner: outcomes are memoized by step name for the
// life of the value, which is enough to replay a cascade in-process. It does not survive
// restarts.
type MemoRunner struct {
	mu     sync.Mutex
	steps  map[string]memo
	slept  map[string]struct{}
	order  []string
	inWork map[string]chan struct{}
}

func NewMemoRunner() *MemoRunner {
	return &MemoRunner{
		steps:  map[string]memo{},
		slept:  map[string]struct{}{},
		inWork: map[string]chan struct{}{},
	}
}

func (r *MemoRunner) Execute(ctx context.Context, name string, cfg StepConfig, work func(ctx context.Context) (any, error)) (any, error) {
	for {
		r.mu.Lock()
		if m, ok := r.steps[name]; ok {
			r.mu.Unlock()
			return m.value, m.err
		}
		wait, busy := r.inWork[name]
		if !busy {
			r.inWork[name] = make(chan struct{})
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	value, err := r.run(ctx, cfg, work)

	r.mu.Lock()
	defer r.mu.Unlock()
	done := r.inWork[name]
	delete(r.inWork, name)
	close(done)
	// Work that stopped with nothing but the context's own error was interrupted, it did
	// not finish. Any other outcome, including a recorded timeout, is replayed.
	if !interrupted(ctx, err) {
		r.steps[name] = memo{value: value, err: err}
		r.order = append(r.order, name)
	}
	return value, err
}

func interrupted(ctx context.Context, err error) bool {
	cerr := ctx.Err()
	return err != nil && cerr != nil && errors.Is(err, cerr)
}

func (r *MemoRunner) run(ctx context.Context, cfg StepConfig, work func(ctx context.Context) (any, error)) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			value, err = nil, fmt.Errorf("step panicked: %v", p)
		}
	}()
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		value, err = work(runCtx)
		cancel()
		if err == nil || ctx.Err() != nil {
			return value, err
		}
	}
	return value, err
}

func (r *MemoRunner) Sleep(ctx context.Context, name string, d time.Duration) error {
	r.mu.Lock()
	_, done := r.slept[name]
	r.mu.Unlock()
	if done || d <= 0 {
		return r.markSlept(name)
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return r.markSlept(name)
}

func (r *MemoRunner) SleepUntil(ctx context.Context, name string, t time.Time) error {
	return r.Sleep(ctx, name, time.Until(t))
}

// Executed lists the names of recorded steps in completion order.
func (r *MemoRunner) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.order...)
}

func (r *MemoRunner) markSlept(name string) error {
	if name == "" {
		return errors.New("durable sleep needs a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept[name] = struct{}{}
	return nil
}
