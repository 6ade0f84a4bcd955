package trace

import "time"

// Serialized is the transport-safe form of a Context. Timestamps and durations are
// milliseconds so that a restored context serializes back to the same structure.
type Serialized struct {
	CorrelationID string           `json:"correlationId" yaml:"correlationId"`
	SpanID        string           `json:"spanId" yaml:"spanId"`
	ParentID      string           `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Name          string           `json:"name,omitempty" yaml:"name,omitempty"`
	Depth         int              `json:"depth" yaml:"depth"`
	Steps         []SerializedStep `json:"steps" yaml:"steps"`
	Path          []string         `json:"path" yaml:"path"`
	CreatedAt     int64            `json:"createdAt" yaml:"createdAt"`
}

type SerializedStep struct {
	Name        string         `json:"name" yaml:"name"`
	StartedAt   int64          `json:"startedAt" yaml:"startedAt"`
	CompletedAt *int64         `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	Duration    *int64         `json:"duration,omitempty" yaml:"duration,omitempty"`
	Status      Status         `json:"status" yaml:"status"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (c *Context) Serialize() Serialized {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := Serialized{
		CorrelationID: c.correlationID,
		SpanID:        c.spanID,
		ParentID:      c.parentID,
		Name:          c.name,
		Depth:         c.depth,
		Steps:         make([]SerializedStep, 0, len(c.steps)),
		Path:          append([]string{}, c.path...),
		CreatedAt:     c.createdAt.UnixMilli(),
	}
	for _, s := range c.steps {
		ss := SerializedStep{
			Name:      s.Name,
			StartedAt: s.StartedAt.UnixMilli(),
			Status:    s.Status,
			Error:     s.Error,
			Metadata:  cloneMetadata(s.Metadata),
		}
		if !s.CompletedAt.IsZero() {
			// Derived from the truncated stamps so completedAt - startedAt == duration.
			completed := s.CompletedAt.UnixMilli()
			dur := completed - ss.StartedAt
			ss.CompletedAt = &completed
			ss.Duration = &dur
		}
		out.Steps = append(out.Steps, ss)
	}
	return out
}

func restore(s Serialized, clock func() time.Time) *Context {
	c := &Context{
		correlationID: s.CorrelationID,
		spanID:        s.SpanID,
		parentID:      s.ParentID,
		name:          s.Name,
		depth:         s.Depth,
		createdAt:     time.UnixMilli(s.CreatedAt),
		clock:         clock,
		steps:         make([]*Step, 0, len(s.Steps)),
		path:          append([]string{}, s.Path...),
	}
	for _, ss := range s.Steps {
		step := &Step{
			Name:      ss.Name,
			StartedAt: time.UnixMilli(ss.StartedAt),
			Status:    ss.Status,
			Error:     ss.Error,
			Metadata:  cloneMetadata(ss.Metadata),
		}
		if step.Status == "" {
			step.Status = StatusRunning
		}
		if ss.CompletedAt != nil {
			step.CompletedAt = time.UnixMilli(*ss.CompletedAt)
		}
		if ss.Duration != nil {
			step.Duration = time.Duration(*ss.Duration) * time.Millisecond
		}
		c.steps = append(c.steps, step)
	}
	return c
}
