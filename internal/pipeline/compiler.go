package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade/eval"
)

var knownAttrs = map[string]struct{}{
	"kind": {}, "expr": {}, "prompt": {}, "timeout": {}, "retries": {},
	"delay": {}, "backoff": {}, "success": {}, "meta": {}, "label": {},
}

// DefaultName names pipelines whose digraph has no id.
const DefaultName = "cascade"

type Compiler struct{}

func NewCompiler() *Compiler { return &Compiler{} }

// Compile parses a DOT pipeline. Tiers are ordered by the edge chain starting at the
// only node without incoming edges; branches, cycles and stray nodes are rejected.
func (c *Compiler) Compile(dot string) (*Pipeline, error) {
	g, err := parseDOT(dot)
	if err != nil {
		return nil, err
	}
	if len(g.order) == 0 {
		return nil, fmt.Errorf("pipeline has no tiers")
	}

	order, err := chainOrder(g)
	if err != nil {
		return nil, err
	}

	name := g.name
	if name == "" {
		name = DefaultName
	}
	p := &Pipeline{Name: name, Stages: make([]Stage, 0, len(order))}
	for _, name := range order {
		st, err := compileStage(name, g.nodes[name])
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
		p.Stages = append(p.Stages, st)
	}
	return p, nil
}

func chainOrder(g *dotGraph) ([]string, error) {
	next := make(map[string]string, len(g.edges))
	incoming := make(map[string]int, len(g.order))
	for _, e := range g.edges {
		if e.From == e.To {
			return nil, fmt.Errorf("tier %q escalates to itself", e.From)
		}
		if prev, ok := next[e.From]; ok && prev != e.To {
			return nil, fmt.Errorf("tier %q escalates to both %q and %q", e.From, prev, e.To)
		}
		if _, ok := next[e.From]; ok {
			continue
		}
		next[e.From] = e.To
		incoming[e.To]++
		if incoming[e.To] > 1 {
			return nil, fmt.Errorf("tier %q is reached from more than one tier", e.To)
		}
	}

	var roots []string
	for _, name := range g.order {
		if incoming[name] == 0 {
			roots = append(roots, name)
		}
	}
	if len(roots) != 1 {
		if len(roots) == 0 {
			return nil, fmt.Errorf("pipeline has no first tier (cycle)")
		}
		return nil, fmt.Errorf("pipeline has %d first tiers (%s); tiers must form one chain", len(roots), strings.Join(roots, ", "))
	}

	order := make([]string, 0, len(g.order))
	seen := make(map[string]struct{}, len(g.order))
	for cur, ok := roots[0], true; ok; cur, ok = next[cur] {
		if _, dup := seen[cur]; dup {
			return nil, fmt.Errorf("cycle at tier %q", cur)
		}
		seen[cur] = struct{}{}
		order = append(order, cur)
	}
	if len(order) != len(g.order) {
		return nil, fmt.Errorf("pipeline has tiers outside the escalation chain")
	}
	return order, nil
}

func compileStage(name string, attrs map[string]string) (Stage, error) {
	for k := range attrs {
		if _, ok := knownAttrs[k]; !ok {
			return Stage{}, fmt.Errorf("unknown attribute %q", k)
		}
	}

	st := Stage{Name: name, Prompt: attrs["prompt"]}

	kind, err := stageKind(name, attrs["kind"])
	if err != nil {
		return Stage{}, err
	}
	st.Kind = kind

	if st.Expr, err = eval.Compile(attrs["expr"]); err != nil {
		return Stage{}, fmt.Errorf("invalid expr: %w", err)
	}
	if st.Kind == KindExpr && st.Expr == nil {
		return Stage{}, fmt.Errorf("expr tier needs an expr attribute")
	}
	if st.Success, err = eval.Compile(attrs["success"]); err != nil {
		return Stage{}, fmt.Errorf("invalid success condition: %w", err)
	}

	if st.Timeout, err = parseDuration(attrs["timeout"]); err != nil {
		return Stage{}, fmt.Errorf("invalid timeout: %w", err)
	}
	if st.Retry.Delay, err = parseDuration(attrs["delay"]); err != nil {
		return Stage{}, fmt.Errorf("invalid delay: %w", err)
	}
	if raw := strings.TrimSpace(attrs["retries"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Stage{}, fmt.Errorf("invalid retries %q", raw)
		}
		st.Retry.Limit = n
	}
	if st.Retry.Backoff, err = cascade.ParseBackoff(attrs["backoff"]); err != nil {
		return Stage{}, err
	}

	if st.Meta, err = ParseAssignments(attrs["meta"]); err != nil {
		return Stage{}, fmt.Errorf("invalid meta: %w", err)
	}
	return st, nil
}

// stageKind defaults by conventional tier name when the kind attribute is absent.
func stageKind(name, raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindExpr, KindModel, KindHuman:
		return k, nil
	case "":
	default:
		return "", fmt.Errorf("unknown kind %q (want expr, model or human)", raw)
	}

	switch name {
	case cascade.TierCode:
		return KindExpr, nil
	case cascade.TierGenerative, cascade.TierAgentic:
		return KindModel, nil
	case cascade.TierHuman:
		return KindHuman, nil
	}
	return "", fmt.Errorf("kind attribute is required for tier %q", name)
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}
