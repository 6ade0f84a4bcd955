// Package trace carries the correlation context of a cascade: a correlation id shared by a
// whole tree of contexts, a span id per node, and the steps recorded in each node.
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTraceparent = errors.New("invalid traceparent")

type Options struct {
	Name             string
	Parent           *Context
	FromSerialized   *Serialized
	FromTraceContext *TraceContext
	// Clock defaults to time.Now; children inherit their parent's clock.
	Clock func() time.Time
}

// Context is safe for concurrent use: a tier may record steps from parallel sub-work.
type Context struct {
	mu sync.RWMutex

	correlationID string
	spanID        string
	parentID      string
	name          string
	depth         int
	createdAt     time.Time

	parent *Context
	clock  func() time.Time

	steps []*Step
	path  []string
}

// New builds a context. FromSerialized wins over FromTraceContext, which wins over Parent.
func New(opts Options) (*Context, error) {
	clock := opts.Clock
	if clock == nil && opts.Parent != nil {
		clock = opts.Parent.clock
	}
	if clock == nil {
		clock = time.Now
	}

	switch {
	case opts.FromSerialized != nil:
		return restore(*opts.FromSerialized, clock), nil
	case opts.FromTraceContext != nil:
		traceID, parentSpan, err := parseTraceparent(opts.FromTraceContext.Traceparent)
		if err != nil {
			return nil, err
		}
		return &Context{
			correlationID: correlationFromTraceID(traceID),
			spanID:        newID(),
			parentID:      parentSpan,
			name:          opts.Name,
			createdAt:     clock(),
			clock:         clock,
			steps:         []*Step{},
			path:          []string{},
		}, nil
	case opts.Parent != nil:
		p := opts.Parent
		return &Context{
			correlationID: p.correlationID,
			spanID:        newID(),
			parentID:      p.spanID,
			name:          opts.Name,
			depth:         p.depth + 1,
			createdAt:     clock(),
			parent:        p,
			clock:         clock,
			steps:         []*Step{},
			path:          []string{},
		}, nil
	default:
		return &Context{
			correlationID: newID(),
			spanID:        newID(),
			name:          opts.Name,
			createdAt:     clock(),
			clock:         clock,
			steps:         []*Step{},
			path:          []string{},
		}, nil
	}
}

// NewRoot is New(Options{Name: name}) for callers that cannot fail.
func NewRoot(name string) *Context {
	c, _ := New(Options{Name: name})
	return c
}

// Child derives a nested context sharing the correlation id.
func (c *Context) Child(name string) *Context {
	child, _ := New(Options{Name: name, Parent: c})
	return child
}

func (c *Context) CorrelationID() string { return c.correlationID }
func (c *Context) SpanID() string        { return c.spanID }
func (c *Context) ParentID() string      { return c.parentID }
func (c *Context) Name() string          { return c.name }
func (c *Context) Depth() int            { return c.depth }
func (c *Context) CreatedAt() time.Time  { return c.createdAt }
func (c *Context) Parent() *Context      { return c.parent }

func (c *Context) Now() time.Time { return c.clock() }

// Steps returns copies of the steps recorded in this context only.
func (c *Context) Steps() []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Step, 0, len(c.steps))
	for _, s := range c.steps {
		out = append(out, s.clone())
	}
	return out
}

// Path lists completed step names of this context in completion order.
func (c *Context) Path() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.path...)
}

// FullPath is recomputed on every call so it reflects the parent's latest state.
func (c *Context) FullPath() []string {
	var out []string
	if c.parent != nil {
		out = c.parent.FullPath()
	}
	return append(out, c.Path()...)
}

// RecordStep appends a running step and returns its handle.
func (c *Context) RecordStep(name string, metadata map[string]any) *StepHandle {
	s := &Step{
		Name:      name,
		StartedAt: c.clock(),
		Status:    StatusRunning,
		Metadata:  cloneMetadata(metadata),
	}
	c.mu.Lock()
	c.steps = append(c.steps, s)
	c.mu.Unlock()
	return &StepHandle{ctx: c, step: s}
}

func (c *Context) String() string {
	return fmt.Sprintf("%s/%s@%d", c.correlationID, c.spanID, c.depth)
}

func newID() string {
	return uuid.NewString()
}
