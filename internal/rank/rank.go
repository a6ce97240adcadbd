// Package rank orders reachable probe results per protocol.
package rank

import (
	"sort"

	"github.com/John-Robertt/nodeprobe/internal/model"
)

const (
	DefaultCap        = 2000
	DefaultTopSingles = 3
	DefaultTopBundle  = 5
)

// Rank keeps reachable results, groups them by protocol, sorts each group by
// ascending latency and truncates it to k entries (DefaultCap when k <= 0).
// Ties are broken by host, then port, then name, so the output depends only on
// the set of inputs and not on their order. Protocols without a reachable
// result are absent from the map.
func Rank(results []model.ProbeResult, k int) map[model.Protocol]model.RankedSet {
	if k <= 0 {
		k = DefaultCap
	}

	groups := make(map[model.Protocol][]model.ProbeResult)
	for _, r := range results {
		if !r.Reachable {
			continue
		}
		groups[r.Record.Protocol] = append(groups[r.Record.Protocol], r)
	}

	out := make(map[model.Protocol]model.RankedSet, len(groups))
	for proto, entries := range groups {
		sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
		total := len(entries)
		if len(entries) > k {
			entries = entries[:k:k]
		}
		out[proto] = model.RankedSet{Protocol: proto, Entries: entries, TotalSeen: total}
	}
	return out
}

func less(a, b model.ProbeResult) bool {
	if a.LatencyMs != b.LatencyMs {
		return a.LatencyMs < b.LatencyMs
	}
	if a.Record.Host != b.Record.Host {
		return a.Record.Host < b.Record.Host
	}
	if a.Record.Port != b.Record.Port {
		return a.Record.Port < b.Record.Port
	}
	return a.Record.Name < b.Record.Name
}

// TopN returns at most the first n entries of set.
func TopN(set model.RankedSet, n int) []model.ProbeResult {
	if n <= 0 {
		return nil
	}
	if n > len(set.Entries) {
		n = len(set.Entries)
	}
	return set.Entries[:n:n]
}

// Validated keeps the entries whose proxy validation passed, preserving order.
func Validated(set model.RankedSet) model.RankedSet {
	out := model.RankedSet{Protocol: set.Protocol, TotalSeen: set.TotalSeen}
	for _, e := range set.Entries {
		if e.IsValidated() {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

// Flatten concatenates sets in canonical protocol order.
func Flatten(sets map[model.Protocol]model.RankedSet) []model.ProbeResult {
	var out []model.ProbeResult
	for _, p := range model.Protocols() {
		if s, ok := sets[p]; ok {
			out = append(out, s.Entries...)
		}
	}
	return out
}

// ValidatedSets applies Validated to every set and drops the ones left empty.
func ValidatedSets(sets map[model.Protocol]model.RankedSet) map[model.Protocol]model.RankedSet {
	out := make(map[model.Protocol]model.RankedSet)
	for p, s := range sets {
		if v := Validated(s); v.Len() > 0 {
			out[p] = v
		}
	}
	return out
}
