package cascade

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/awmpietro/golang-cascade-escalation/internal/trace"
)

// TierRecord is the outcome of one tier, retries included. Skipped is always false in a
// Result's History, which only holds attempted tiers; Result.SkippedTiers names the rest.
// Result.Timeline sets it on the records it adds for those.
type TierRecord struct {
	Tier      string
	Value     any
	Err       error
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Skipped   bool
	TimedOut  bool
	Attempts  int
}

type tierRecordJSON struct {
	Tier           string    `json:"tier"`
	Value          any       `json:"value,omitempty"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMicros int64     `json:"duration_micros"`
	Success        bool      `json:"success"`
	Skipped        bool      `json:"skipped,omitempty"`
	TimedOut       bool      `json:"timed_out,omitempty"`
	Attempts       int       `json:"attempts"`
}

func (r TierRecord) MarshalJSON() ([]byte, error) {
	out := tierRecordJSON{
		Tier:           r.Tier,
		Value:          r.Value,
		StartedAt:      r.StartedAt,
		DurationMicros: r.Duration.Microseconds(),
		Success:        r.Success,
		Skipped:        r.Skipped,
		TimedOut:       r.TimedOut,
		Attempts:       r.Attempts,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a record; the error comes back as an opaque message.
func (r *TierRecord) UnmarshalJSON(b []byte) error {
	var in tierRecordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = TierRecord{
		Tier:      in.Tier,
		Value:     in.Value,
		StartedAt: in.StartedAt,
		Duration:  time.Duration(in.DurationMicros) * time.Microsecond,
		Success:   in.Success,
		Skipped:   in.Skipped,
		TimedOut:  in.TimedOut,
		Attempts:  in.Attempts,
	}
	if in.Error != "" {
		r.Err = errors.New(in.Error)
	}
	return nil
}

type Metrics struct {
	TotalDuration time.Duration
	TierDurations map[string]time.Duration
}

type metricsJSON struct {
	TotalDurationMicros int64            `json:"total_duration_micros"`
	TierDurationsMicros map[string]int64 `json:"tier_durations_micros"`
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	out := metricsJSON{
		TotalDurationMicros: m.TotalDuration.Microseconds(),
		TierDurationsMicros: make(map[string]int64, len(m.TierDurations)),
	}
	for k, v := range m.TierDurations {
		out.TierDurationsMicros[k] = v.Microseconds()
	}
	return json.Marshal(out)
}

func (m *Metrics) UnmarshalJSON(b []byte) error {
	var in metricsJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	m.TotalDuration = time.Duration(in.TotalDurationMicros) * time.Microsecond
	m.TierDurations = make(map[string]time.Duration, len(in.TierDurationsMicros))
	for k, v := range in.TierDurationsMicros {
		m.TierDurations[k] = time.Duration(v) * time.Microsecond
	}
	return nil
}

type Result struct {
	Value        any              `json:"value"`
	Tier         string           `json:"tier"`
	History      []TierRecord     `json:"history"`
	SkippedTiers []string         `json:"skipped_tiers"`
	Context      trace.Serialized `json:"context"`
	Metrics      Metrics          `json:"metrics"`
}

// Timeline is History followed by a Skipped record for each tier never reached.
func (r *Result) Timeline() []TierRecord {
	out := make([]TierRecord, 0, len(r.History)+len(r.SkippedTiers))
	out = append(out, r.History...)
	for _, name := range r.SkippedTiers {
		out = append(out, TierRecord{Tier: name, Skipped: true})
	}
	return out
}
