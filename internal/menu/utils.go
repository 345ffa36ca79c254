package menu

import (
	"sort"

	"github.com/example/carmenu/internal/entry"
)

// SortByWeight orders entries the way the head unit displays them: higher
// weight first, then by name and stable identifier.
func SortByWeight(entries []entry.Info) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.StableID < b.StableID
	})
}

// IndexByID maps entries by stable identifier.
func IndexByID(entries []entry.Info) map[string]entry.Info {
	out := make(map[string]entry.Info, len(entries))
	for _, info := range entries {
		out[info.StableID] = info
	}
	return out
}
