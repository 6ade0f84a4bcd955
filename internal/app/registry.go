package app

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoHandler = errors.New("no handler registered")

// Handler reacts to one (noun, event) pair. Payload is the raw request body.
type Handler func(ctx context.Context, payload []byte) (any, error)

type handlerKey struct {
	noun  string
	event string
}

// Registry is an immutable (noun, event) -> handlers table.
type Registry struct {
	handlers map[handlerKey][]Handler
}

type RegistryBuilder struct {
	handlers map[handlerKey][]Handler
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{handlers: make(map[handlerKey][]Handler)}
}

// On appends h to the handlers of (noun, event); nil handlers are ignored.
func (b *RegistryBuilder) On(noun, event string, h Handler) *RegistryBuilder {
	if h == nil {
		return b
	}
	k := handlerKey{noun: noun, event: event}
	b.handlers[k] = append(b.handlers[k], h)
	return b
}

func (b *RegistryBuilder) Build() Registry {
	out := make(map[handlerKey][]Handler, len(b.handlers))
	for k, hs := range b.handlers {
		out[k] = append([]Handler(nil), hs...)
	}
	return Registry{handlers: out}
}

func (r Registry) Has(noun, event string) bool {
	return len(r.handlers[handlerKey{noun: noun, event: event}]) > 0
}

// Dispatch runs the handlers of (noun, event) in registration order and stops at the
// first error. Results of the handlers that ran are returned either way.
func (r Registry) Dispatch(ctx context.Context, noun, event string, payload []byte) ([]any, error) {
	hs := r.handlers[handlerKey{noun: noun, event: event}]
	if len(hs) == 0 {
		return nil, fmt.Errorf("%w for %s.%s", ErrNoHandler, noun, event)
	}
	out := make([]any, 0, len(hs))
	for i, h := range hs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := h(ctx, payload)
		if err != nil {
			return out, fmt.Errorf("%s.%s handler %d: %w", noun, event, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
