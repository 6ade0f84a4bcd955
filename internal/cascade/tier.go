package cascade

import (
	"context"
	"fmt"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

// Conventional tier names, cheapest first.
const (
	TierCode       = "code"
	TierGenerative = "generative"
	TierAgentic    = "agentic"
	TierHuman      = "human"
)

// FallbackTimeout applies to tiers missing from the default table.
const FallbackTimeout = 30 * time.Second

// DefaultTimeout returns the built-in budget for a tier: looser SLAs for slower targets.
func DefaultTimeout(tier string) time.Duration {
	switch tier {
	case TierCode:
		return 5 * time.Second
	case TierGenerative:
		return 30 * time.Second
	case TierAgentic:
		return 300 * time.Second
	case TierHuman:
		return 86_400 * time.Second
	}
	return FallbackTimeout
}

// TierFunc is one tier's work. A returned error escalates to the next tier.
type TierFunc func(ctx context.Context, input any, tc TierContext) (any, error)

type Tier struct {
	Name string
	Run  TierFunc
}

// TierContext is what a tier sees of the cascade it runs in.
type TierContext struct {
	Cascade string
	Tier    string
	Index   int
	Attempt int
	// PreviousErrors holds, in order, the failures of every earlier tier of this run.
	PreviousErrors []TierError
	// Trace is a child of the cascade context; sub-work records its steps here.
	Trace        *trace.Context
	Capabilities Capabilities
}

type ModelRequest struct {
	Cascade        string
	Prompt         string
	Input          any
	PreviousErrors []TierError
}

type ModelInvoker interface {
	Invoke(ctx context.Context, req ModelRequest) (any, error)
}

type EscalationRequest struct {
	Cascade       string
	Tier          string
	CorrelationID string
	Input         any
	Reasons       []TierError
}

type HumanEscalator interface {
	Escalate(ctx context.Context, req EscalationRequest) (any, error)
}

// Capabilities are injected once per Executor and handed to every tier.
type Capabilities struct {
	Model ModelInvoker
	Human HumanEscalator
}

func validateTiers(tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrNoTiers
	}
	seen := make(map[string]struct{}, len(tiers))
	for i, t := range tiers {
		if t.Name == "" {
			return fmt.Errorf("tier %d has an empty name", i)
		}
		if t.Run == nil {
			return fmt.Errorf("tier %q has no func", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

func tierNames(tiers []Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = t.Name
	}
	return out
}
