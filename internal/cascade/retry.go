package cascade

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

func ParseBackoff(s string) (Backoff, error) {
	switch b := Backoff(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackoffConstant, nil
	case BackoffConstant, BackoffLinear, BackoffExponential:
		return b, nil
	}
	return "", fmt.Errorf("unknown backoff %q (want constant, linear or exponential)", s)
}

// RetryPolicy allows Limit extra attempts after the first one.
type RetryPolicy struct {
	Limit   int
	Delay   time.Duration
	Backoff Backoff
}

// maxDelay is where growing backoffs saturate. No tier deadline fits it, so a saturated
// retry is never started.
const maxDelay = time.Duration(math.MaxInt64)

// DelayFor returns the wait before retry n (1-based).
func (p RetryPolicy) DelayFor(n int) time.Duration {
	if n < 1 || p.Delay <= 0 {
		return 0
	}
	switch p.Backoff {
	case BackoffLinear:
		if p.Delay > maxDelay/time.Duration(n) {
			return maxDelay
		}
		return p.Delay * time.Duration(n)
	case BackoffExponential:
		if n-1 >= 63 || p.Delay > maxDelay>>(n-1) {
			return maxDelay
		}
		return p.Delay << (n - 1)
	}
	return p.Delay
}

func (p RetryPolicy) attempts() int {
	if p.Limit < 0 {
		return 1
	}
	return p.Limit + 1
}
