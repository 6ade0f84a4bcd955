package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
	"github.com/awmpietro/golang-cascade-escalation/internal/store"
)

var (
	okColor      = color.New(color.FgHiGreen)
	failColor    = color.New(color.FgRed)
	timeoutColor = color.New(color.FgYellow)
	dimColor     = color.New(color.FgHiBlack)
	idColor      = color.New(color.FgCyan)
)

func printHistory(w io.Writer, history []cascade.TierRecord, skipped []string) {
	for _, r := range history {
		d := r.Duration.Round(time.Microsecond)
		switch {
		case r.Success:
			okColor.Fprintf(w, "  ✓ %-12s", r.Tier)
			fmt.Fprintf(w, " %s, %d attempt(s)\n", d, r.Attempts)
		case r.TimedOut:
			timeoutColor.Fprintf(w, "  ⧗ %-12s", r.Tier)
			fmt.Fprintf(w, " %s: %v\n", d, r.Err)
		default:
			failColor.Fprintf(w, "  ✗ %-12s", r.Tier)
			fmt.Fprintf(w, " %s: %v\n", d, r.Err)
		}
	}
	for _, name := range skipped {
		dimColor.Fprintf(w, "  - %-12s skipped\n", name)
	}
}

func statusText(s store.Status) string {
	switch s {
	case store.StatusSucceeded:
		return okColor.Sprint(s)
	case store.StatusTimedOut:
		return timeoutColor.Sprint(s)
	}
	return failColor.Sprint(s)
}
