package model

// ProbeResult is the verdict of a single TCP reachability attempt. Values are
// never mutated after the prober returns them; later stages build new ones.
type ProbeResult struct {
	Record    NodeRecord
	Reachable bool
	LatencyMs float64 // 0 when unreachable

	// ProxyValidated is nil when the record was never run through the
	// proxy validator.
	ProxyValidated *bool
}

func (r ProbeResult) WithValidation(ok bool) ProbeResult {
	r.ProxyValidated = &ok
	return r
}

func (r ProbeResult) IsValidated() bool {
	return r.ProxyValidated != nil && *r.ProxyValidated
}

// RankedSet is the ordered, capped list of reachable nodes for one protocol.
type RankedSet struct {
	Protocol Protocol
	Entries  []ProbeResult

	// TotalSeen counts reachable results for Protocol before truncation.
	TotalSeen int
}

func (s RankedSet) Records() []NodeRecord {
	out := make([]NodeRecord, 0, len(s.Entries))
	for _, e := range s.Entries {
		out = append(out, e.Record)
	}
	return out
}

func (s RankedSet) Len() int { return len(s.Entries) }
