package integration_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/capability"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/pipeline"
)

type countingModel struct {
	calls atomic.Int32
}

func (m *countingModel) Invoke(_ context.Context, req cascade.ModelRequest) (any, error) {
	m.calls.Add(1)
	in, _ := req.Input.(map[string]any)
	if score, _ := in["score"].(int); score >= 600 {
		return map[string]any{"approved": true}, nil
	}
	return nil, errors.New("model unsure")
}

func TestCompilerExecutor_DurableReplay(t *testing.T) {
	p, err := pipeline.NewCompiler().Compile(approvalDOT(t))
	if err != nil {
		t.Fatal(err)
	}

	model := &countingModel{}
	runner := cascade.NewMemoRunner()
	exec := cascade.NewExecutor(
		cascade.WithDurable(runner),
		cascade.WithCapabilities(cascade.Capabilities{Model: model, Human: capability.NewQueueEscalator(nil)}),
	)
	cfg := cascade.Config{Name: p.Name, TierConfig: p.TierConfig()}
	input := map[string]any{"score": 650}

	first, err := exec.Run(context.Background(), p.Tiers(), input, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if first.Tier != "generative" || model.calls.Load() != 1 {
		t.Fatalf("unexpected first run: tier=%s calls=%d", first.Tier, model.calls.Load())
	}

	// The same runner replays recorded steps instead of calling the model again.
	rec := &audit.Recorder{}
	cfg.OnEvent = rec.Emit
	second, err := exec.Run(context.Background(), p.Tiers(), input, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if second.Tier != "generative" || model.calls.Load() != 1 {
		t.Fatalf("expected replay without a model call: tier=%s calls=%d", second.Tier, model.calls.Load())
	}
	if len(runner.Executed()) != 2 {
		t.Fatalf("expected 2 recorded steps, got %v", runner.Executed())
	}

	events := rec.Events()
	if len(events) == 0 {
		t.Fatalf("expected audit events")
	}
	first0, last := events[0], events[len(events)-1]
	if first0.What != audit.CascadeAction || first0.How.Status != audit.StatusStarted {
		t.Fatalf("unexpected first event: %+v", first0)
	}
	if last.What != audit.CascadeAction || last.How.Status != audit.StatusCompleted {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestCompilerExecutor_EscalatesToHumanQueue(t *testing.T) {
	p, err := pipeline.NewCompiler().Compile(approvalDOT(t))
	if err != nil {
		t.Fatal(err)
	}

	queue := capability.NewQueueEscalator(nil)
	exec := cascade.NewExecutor(
		cascade.WithCapabilities(cascade.Capabilities{Model: &countingModel{}, Human: queue}),
	)
	res, err := exec.Run(context.Background(), p.Tiers(), map[string]any{"score": 100}, cascade.Config{Name: p.Name, TierConfig: p.TierConfig()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != "human" {
		t.Fatalf("expected human tier, got %s", res.Tier)
	}
	pending := queue.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one ticket, got %d", len(pending))
	}
	if got := len(pending[0].Reasons); got != 2 {
		t.Fatalf("expected 2 reasons, got %d: %v", got, pending[0].Reasons)
	}
	if pending[0].CorrelationID != res.Context.CorrelationID {
		t.Fatalf("ticket correlation %q != run correlation %q", pending[0].CorrelationID, res.Context.CorrelationID)
	}
}
