package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
)

var (
	ErrNoResult       = errors.New("expression produced no result")
	ErrNoModel        = errors.New("no model capability configured")
	ErrNoHumanChannel = errors.New("no human escalation capability configured")
)

// Tiers builds the cascade tiers of the pipeline. Model and human tiers use the
// capabilities the executor hands them at run time.
func (p *Pipeline) Tiers() []cascade.Tier {
	out := make([]cascade.Tier, 0, len(p.Stages))
	for _, st := range p.Stages {
		out = append(out, cascade.Tier{Name: st.Name, Run: st.run()})
	}
	return out
}

// TierConfig returns the per-tier settings written in the pipeline.
func (p *Pipeline) TierConfig() map[string]cascade.TierConfig {
	out := make(map[string]cascade.TierConfig, len(p.Stages))
	for _, st := range p.Stages {
		tc := cascade.TierConfig{
			Timeout:  st.Timeout,
			Retry:    st.Retry,
			Metadata: assignmentsMap(st.Meta),
		}
		if st.Success != nil {
			cond := st.Success
			tc.SuccessCondition = func(value any) bool {
				ok, err := cond.Bool(Vars(nil, map[string]any{"value": value}))
				return err == nil && ok
			}
		}
		if tc.Metadata == nil {
			tc.Metadata = map[string]any{}
		}
		tc.Metadata["kind"] = string(st.Kind)
		out[st.Name] = tc
	}
	return out
}

func (st Stage) run() cascade.TierFunc {
	switch st.Kind {
	case KindExpr:
		return st.runExpr
	case KindModel:
		return st.runModel
	default:
		return st.runHuman
	}
}

func (st Stage) runExpr(_ context.Context, input any, tc cascade.TierContext) (any, error) {
	out, err := st.Expr.Run(Vars(input, map[string]any{"previous_errors": previousErrors(tc.PreviousErrors)}))
	if err != nil {
		return nil, err
	}
	if out == nil || out == false {
		return nil, ErrNoResult
	}
	return out, nil
}

func (st Stage) runModel(ctx context.Context, input any, tc cascade.TierContext) (any, error) {
	if tc.Capabilities.Model == nil {
		return nil, ErrNoModel
	}
	out, err := tc.Capabilities.Model.Invoke(ctx, cascade.ModelRequest{
		Cascade:        tc.Cascade,
		Prompt:         st.Prompt,
		Input:          input,
		PreviousErrors: tc.PreviousErrors,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}
	return out, nil
}

func (st Stage) runHuman(ctx context.Context, input any, tc cascade.TierContext) (any, error) {
	if tc.Capabilities.Human == nil {
		return nil, ErrNoHumanChannel
	}
	req := cascade.EscalationRequest{
		Cascade: tc.Cascade,
		Tier:    tc.Tier,
		Input:   input,
		Reasons: tc.PreviousErrors,
	}
	if tc.Trace != nil {
		req.CorrelationID = tc.Trace.CorrelationID()
	}
	out, err := tc.Capabilities.Human.Escalate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("escalate to human: %w", err)
	}
	return out, nil
}

// Vars is the variable set expressions see: the keys of a map input at top level, the
// whole input as `input`, then extra.
func Vars(input any, extra map[string]any) map[string]any {
	vars := map[string]any{}
	if m, ok := input.(map[string]any); ok {
		for k, v := range m {
			vars[k] = v
		}
	}
	vars["input"] = input
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func previousErrors(errs []cascade.TierError) []map[string]any {
	out := make([]map[string]any, 0, len(errs))
	for _, e := range errs {
		out = append(out, map[string]any{
			"tier":    e.Tier,
			"error":   e.Err.Error(),
			"attempt": e.Attempt,
		})
	}
	return out
}
