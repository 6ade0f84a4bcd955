package store

import (
	"context"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
)

// Sink writes audit events into a store. Write failures go to OnError, if set;
// the cascade that emitted the event is never failed by its audit trail.
type Sink struct {
	store   Store
	timeout time.Duration
	OnError func(ev audit.Event, err error)
}

var _ audit.Sink = (*Sink)(nil)

func EventSink(st Store) *Sink {
	return &Sink{store: st, timeout: 5 * time.Second}
}

func (s *Sink) Emit(ev audit.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.store.AppendEvent(ctx, ev); err != nil && s.OnError != nil {
		s.OnError(ev, err)
	}
}
