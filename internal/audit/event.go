// Package audit turns cascade transitions into who/what/when/where/why/how events.
package audit

import "time"

type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusEscalated Status = "escalated"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

const DefaultActor = "system"

// CascadeAction is the What of events describing the cascade as a whole.
const CascadeAction = "cascade"

type Event struct {
	Who           string    `json:"who"`
	What          string    `json:"what"`
	When          time.Time `json:"when"`
	Where         string    `json:"where"`
	Why           string    `json:"why,omitempty"`
	How           How       `json:"how"`
	CorrelationID string    `json:"correlation_id"`
	SpanID        string    `json:"span_id"`
}

type How struct {
	Status         Status         `json:"status"`
	DurationMicros int64          `json:"duration_micros"`
	Attempt        int            `json:"attempt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (h How) Duration() time.Duration {
	return time.Duration(h.DurationMicros) * time.Microsecond
}
