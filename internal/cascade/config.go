package cascade

import (
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

type TierConfig struct {
	// Timeout overrides Config.Timeouts and the default table.
	Timeout time.Duration
	Retry   RetryPolicy
	// SuccessCondition sees the value of a tier that returned no error.
	// Nil means any error-free result succeeds.
	SuccessCondition func(value any) bool
	OnError          func(tier string, err error)
	// Metadata is attached to the tier's step and start event.
	Metadata map[string]any
}

// Config is the per-run configuration of a cascade.
type Config struct {
	// Name is the Where of audit events and the prefix of durable step names.
	Name         string
	Timeouts     map[string]time.Duration
	TotalTimeout time.Duration
	TierConfig   map[string]TierConfig
	ResultMerger ResultMerger
	OnEvent      func(ev audit.Event)
	Actor        string
	// Trace, when set, is used as the cascade context as is (e.g. one restored from a
	// traceparent). Otherwise a context is created, as a child of Parent when set.
	Trace  *trace.Context
	Parent *trace.Context
}

// timeoutFor resolves a tier's budget: TierConfig, then Timeouts, then defaults, then
// the built-in table.
func (c Config) timeoutFor(tier string, defaults map[string]time.Duration) time.Duration {
	if tc, ok := c.TierConfig[tier]; ok && tc.Timeout > 0 {
		return tc.Timeout
	}
	if d, ok := c.Timeouts[tier]; ok && d > 0 {
		return d
	}
	if d, ok := defaults[tier]; ok && d > 0 {
		return d
	}
	return DefaultTimeout(tier)
}

func (c Config) name() string {
	if c.Name == "" {
		return "cascade"
	}
	return c.Name
}
