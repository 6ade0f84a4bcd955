package audit

import (
	"fmt"
	"time"
)

type Sink interface {
	Emit(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

type discard struct{}

func (discard) Emit(Event) {}

// Discard is the sink used when the caller supplied none.
var Discard Sink = discard{}

type multiSink []Sink

func (m multiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Multi fans one event out to every non-nil sink, in argument order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}

type Scope struct {
	Actor         string
	Where         string
	CorrelationID string
	SpanID        string
	Clock         func() time.Time
}

// Emitter stamps events with one cascade's scope and hands them to the sink
// synchronously, so sink order is emission order.
type Emitter struct {
	sink  Sink
	scope Scope
}

func NewEmitter(sink Sink, scope Scope) *Emitter {
	if sink == nil {
		sink = Discard
	}
	if scope.Actor == "" {
		scope.Actor = DefaultActor
	}
	if scope.Clock == nil {
		scope.Clock = time.Now
	}
	return &Emitter{sink: sink, scope: scope}
}

func (e *Emitter) Emit(what string, status Status, why string, d time.Duration, attempt int, metadata map[string]any) Event {
	ev := Event{
		Who:   e.scope.Actor,
		What:  what,
		When:  e.scope.Clock(),
		Where: e.scope.Where,
		Why:   why,
		How: How{
			Status:         status,
			DurationMicros: d.Microseconds(),
			Attempt:        attempt,
			Metadata:       cloneMetadata(metadata),
		},
		CorrelationID: e.scope.CorrelationID,
		SpanID:        e.scope.SpanID,
	}
	e.sink.Emit(ev)
	return ev
}

func (e *Emitter) CascadeStarted(tiers []string) {
	e.Emit(CascadeAction, StatusStarted, "", 0, 0, map[string]any{"tiers": append([]string{}, tiers...)})
}

func (e *Emitter) CascadeCompleted(tier string, d time.Duration) {
	e.Emit(CascadeAction, StatusCompleted, "", d, 0, map[string]any{"tier": tier})
}

func (e *Emitter) CascadeAborted(err error, d time.Duration) {
	e.Emit(CascadeAction, StatusAborted, errString(err), d, 0, nil)
}

func (e *Emitter) TierStarted(tier string, metadata map[string]any) {
	e.Emit(tier, StatusStarted, "", 0, 0, metadata)
}

func (e *Emitter) TierSucceeded(tier string, d time.Duration, attempts int) {
	e.Emit(tier, StatusSucceeded, "", d, attempts, nil)
}

func (e *Emitter) TierFailed(tier string, err error, d time.Duration, attempts int) {
	e.Emit(tier, StatusFailed, errString(err), d, attempts, nil)
}

func (e *Emitter) TierTimedOut(tier string, err error, d time.Duration, attempts int) {
	e.Emit(tier, StatusTimedOut, errString(err), d, attempts, nil)
}

// Escalated records the hand-off from one tier to the next; why carries the cause.
func (e *Emitter) Escalated(from, to string, cause error) {
	e.Emit(from, StatusEscalated, fmt.Sprintf("escalating to %s: %s", to, errString(cause)), 0, 0, map[string]any{"from": from, "to": to})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
