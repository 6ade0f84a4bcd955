package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (l *LogSink) Emit(ev Event) {
	if l == nil || l.logger == nil {
		return
	}
	level := slog.LevelInfo
	switch ev.How.Status {
	case StatusFailed, StatusTimedOut, StatusEscalated:
		level = slog.LevelWarn
	case StatusAborted:
		level = slog.LevelError
	}
	l.logger.LogAttrs(context.Background(), level, "cascade_audit",
		slog.String("who", ev.Who),
		slog.String("what", ev.What),
		slog.String("where", ev.Where),
		slog.String("why", ev.Why),
		slog.String("status", string(ev.How.Status)),
		slog.Float64("duration_ms", float64(ev.How.DurationMicros)/1000.0),
		slog.String("correlation_id", ev.CorrelationID),
	)
}

// AsyncSink forwards events to next from a single goroutine, preserving order.
// Events arriving while the buffer is full, or after Close, are dropped and counted.
type AsyncSink struct {
	next    Sink
	events  chan Event
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}

	s := &AsyncSink{
		next:   next,
		events: make(chan Event, buffer),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.events {
			if s.next == nil {
				continue
			}
			s.next.Emit(ev)
		}
	}()

	return s
}

func (s *AsyncSink) Emit(ev Event) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *AsyncSink) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// Close drains buffered events into next and stops the worker.
func (s *AsyncSink) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		s.wg.Wait()
	})
}

// Recorder keeps every event in memory; handy for debug responses and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}
