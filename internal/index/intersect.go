package index

// Intersect returns the ids present in every set. With no sets it returns
// nil, meaning "no constraint", which callers must keep distinct from an
// empty result.
func Intersect(sets ...map[int64]struct{}) map[int64]struct{} {
	if len(sets) == 0 {
		return nil
	}
	smallest := 0
	for i, s := range sets {
		if len(s) < len(sets[smallest]) {
			smallest = i
		}
	}
	out := make(map[int64]struct{}, len(sets[smallest]))
outer:
	for id := range sets[smallest] {
		for i, s := range sets {
			if i == smallest {
				continue
			}
			if _, ok := s[id]; !ok {
				continue outer
			}
		}
		out[id] = struct{}{}
	}
	return out
}

// SetOf builds a posting-style set from ids.
func SetOf(ids ...int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
