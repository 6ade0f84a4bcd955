package cascade

// ResultMerger replaces first-success-wins: it receives the full history and returns the
// cascade's value. It does not change which tiers run.
type ResultMerger func(records []TierRecord) (any, error)

// MergeSuccessful returns the values of every successful record, in tier order.
func MergeSuccessful(records []TierRecord) (any, error) {
	out := make([]any, 0, len(records))
	for _, r := range records {
		if r.Success {
			out = append(out, r.Value)
		}
	}
	return out, nil
}

// MergeEvidence maps each attempted tier to what it produced: its value, or its error
// message when it failed without one.
func MergeEvidence(records []TierRecord) (any, error) {
	out := make(map[string]any, len(records))
	for _, r := range records {
		switch {
		case r.Value != nil:
			out[r.Tier] = r.Value
		case r.Err != nil:
			out[r.Tier] = map[string]any{"error": r.Err.Error()}
		default:
			out[r.Tier] = nil
		}
	}
	return out, nil
}

// MergeLast returns the value of the last successful record.
func MergeLast(records []TierRecord) (any, error) {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Success {
			return records[i].Value, nil
		}
	}
	return nil, nil
}
