package pipeline

import (
	"fmt"
	"strings"

	"github.com/awalterschulze/gographviz"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
)

const (
	colorSucceeded = "forestgreen"
	colorFailed    = "firebrick"
	colorTimedOut  = "darkorange"
	colorSkipped   = "gray"
)

// Render writes the pipeline back to DOT. When history is given, attempted tiers are
// colored by outcome and tiers never reached are grayed out.
func Render(p *Pipeline, history []cascade.TierRecord) (string, error) {
	name := p.Name
	if name == "" {
		name = "Cascade"
	}

	g := gographviz.NewEscape()
	if err := g.SetName(name); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr(g.Name, "rankdir", "LR"); err != nil {
		return "", err
	}

	byTier := make(map[string]cascade.TierRecord, len(history))
	for _, r := range history {
		byTier[r.Tier] = r
	}

	for _, st := range p.Stages {
		attrs := map[string]string{
			"shape": "box",
			"label": stageLabel(st),
		}
		if len(history) > 0 {
			rec, attempted := byTier[st.Name]
			attrs["style"] = "filled"
			attrs["fontcolor"] = "white"
			switch {
			case !attempted || rec.Skipped:
				attrs["fillcolor"] = colorSkipped
			case rec.Success:
				attrs["fillcolor"] = colorSucceeded
			case rec.TimedOut:
				attrs["fillcolor"] = colorTimedOut
			default:
				attrs["fillcolor"] = colorFailed
			}
			if rec.Err != nil {
				attrs["tooltip"] = rec.Err.Error()
			}
		}
		if err := g.AddNode(g.Name, st.Name, attrs); err != nil {
			return "", fmt.Errorf("render tier %q: %w", st.Name, err)
		}
	}

	for i := 1; i < len(p.Stages); i++ {
		if err := g.AddEdge(p.Stages[i-1].Name, p.Stages[i].Name, true, map[string]string{"label": "escalate"}); err != nil {
			return "", err
		}
	}

	return g.String(), nil
}

func stageLabel(st Stage) string {
	parts := []string{st.Name, string(st.Kind)}
	if st.Timeout > 0 {
		parts = append(parts, "timeout "+st.Timeout.String())
	}
	if st.Retry.Limit > 0 {
		parts = append(parts, fmt.Sprintf("retries %d (%s)", st.Retry.Limit, st.Retry.Backoff))
	}
	return strings.Join(parts, "\n")
}
