package pipeline

import (
	"github.com/John-Robertt/nodeprobe/internal/config"
	"github.com/John-Robertt/nodeprobe/internal/model"
)

// Policy decides which record survives when several share a Key.
type Policy int

const (
	// KeepFirst keeps the earliest record.
	KeepFirst Policy = iota
	// KeepLast keeps the position of the earliest record but takes the
	// credentials and name of the latest one.
	KeepLast
)

// ParsePolicy maps a config value to a Policy; unknown values mean KeepFirst.
func ParsePolicy(s string) Policy {
	if s == config.PolicyKeepLast {
		return KeepLast
	}
	return KeepFirst
}

// Dedupe removes records whose Key was already seen, keeping the first.
// Relative order of survivors is preserved.
func Dedupe(records []model.NodeRecord) []model.NodeRecord {
	return DedupeWith(records, KeepFirst)
}

func DedupeWith(records []model.NodeRecord, policy Policy) []model.NodeRecord {
	index := make(map[model.Key]int, len(records))
	out := make([]model.NodeRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			if policy == KeepLast {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
