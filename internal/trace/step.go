package trace

import "time"

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Step struct {
	Name        string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Status      Status
	Error       string
	Metadata    map[string]any
}

func (s Step) Done() bool { return s.Status != StatusRunning }

func (s *Step) clone() Step {
	out := *s
	out.Metadata = cloneMetadata(s.Metadata)
	return out
}

// StepHandle moves one step from running to completed or failed. Only the first
// transition takes effect.
type StepHandle struct {
	ctx  *Context
	step *Step
}

func (h *StepHandle) Complete() {
	h.finish(StatusCompleted, "")
}

func (h *StepHandle) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	h.finish(StatusFailed, msg)
}

func (h *StepHandle) AddMetadata(key string, value any) *StepHandle {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if h.step.Metadata == nil {
		h.step.Metadata = map[string]any{}
	}
	h.step.Metadata[key] = value
	return h
}

// Step returns a snapshot of the underlying step.
func (h *StepHandle) Step() Step {
	h.ctx.mu.RLock()
	defer h.ctx.mu.RUnlock()
	return h.step.clone()
}

func (h *StepHandle) finish(status Status, errMsg string) {
	now := h.ctx.clock()

	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	if h.step.Status != StatusRunning {
		return
	}
	h.step.CompletedAt = now
	h.step.Duration = now.Sub(h.step.StartedAt)
	h.step.Status = status
	h.step.Error = errMsg
	if status == StatusCompleted {
		h.ctx.path = append(h.ctx.path, h.step.Name)
	}
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
