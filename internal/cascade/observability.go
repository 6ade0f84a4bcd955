package cascade

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

type TierObserver interface {
	ObserveTier(tier string, outcome Outcome, duration time.Duration)
}

// EscalationObserver is optionally implemented by a TierObserver that also counts
// hand-offs between tiers.
type EscalationObserver interface {
	ObserveEscalation(from, to string)
}

type TierLatencyLogger struct {
	logger *slog.Logger
}

func NewTierLatencyLogger(logger *slog.Logger) *TierLatencyLogger {
	return &TierLatencyLogger{logger: logger}
}

func (l *TierLatencyLogger) ObserveTier(tier string, outcome Outcome, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "cascade_tier_latency",
		slog.String("tier", tier),
		slog.String("outcome", string(outcome)),
		slog.Float64("duration_ms", float64(duration.Microseconds())/1000.0),
	)
}

// AsyncTierObserver keeps slow observers off the cascade's path. Observations that do
// not fit in the buffer are dropped and counted.
type AsyncTierObserver struct {
	next    TierObserver
	events  chan tierObservation
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type tierObservation struct {
	tier     string
	outcome  Outcome
	duration time.Duration
	// set for escalations
	to string
}

func NewAsyncTierObserver(next TierObserver, buffer int) *AsyncTierObserver {
	if buffer <= 0 {
		buffer = 1
	}

	o := &AsyncTierObserver{
		next:   next,
		events: make(chan tierObservation, buffer),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next == nil {
				continue
			}
			if ev.to != "" {
				if eo, ok := o.next.(EscalationObserver); ok {
					eo.ObserveEscalation(ev.tier, ev.to)
				}
				continue
			}
			o.next.ObserveTier(ev.tier, ev.outcome, ev.duration)
		}
	}()

	return o
}

func (o *AsyncTierObserver) ObserveTier(tier string, outcome Outcome, duration time.Duration) {
	o.enqueue(tierObservation{tier: tier, outcome: outcome, duration: duration})
}

func (o *AsyncTierObserver) ObserveEscalation(from, to string) {
	o.enqueue(tierObservation{tier: from, to: to})
}

func (o *AsyncTierObserver) enqueue(ev tierObservation) {
	if o == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- ev:
	default:
		o.dropped.Add(1)
	}
}

func (o *AsyncTierObserver) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}

func (o *AsyncTierObserver) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}
