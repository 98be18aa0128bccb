package diff

import "strings"

// matcher derives an alignment key from an item. unique restricts the pass to keys that occur
// exactly once on both sides.
type matcher[T any] struct {
	key    func(T) string
	unique bool
}

// align pairs original items with adapted items, trying each matcher in order on the items that are
// still unpaired. The result maps original index to adapted index.
func align[T any](orig, adapted []T, passes ...matcher[T]) map[int]int {
	pairs := make(map[int]int)
	used := make(map[int]bool)
	for _, pass := range passes {
		var origCount, adaptedCount map[string]int
		if pass.unique {
			origCount = countKeys(orig, pass.key)
			adaptedCount = countKeys(adapted, pass.key)
		}
		for i, o := range orig {
			if _, ok := pairs[i]; ok {
				continue
			}
			k := pass.key(o)
			if k == "" {
				continue
			}
			if pass.unique && (origCount[k] != 1 || adaptedCount[k] != 1) {
				continue
			}
			for j, a := range adapted {
				if used[j] || pass.key(a) != k {
					continue
				}
				pairs[i] = j
				used[j] = true
				break
			}
		}
	}
	return pairs
}

func countKeys[T any](items []T, key func(T) string) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		if k := key(it); k != "" {
			out[k]++
		}
	}
	return out
}

func norm(parts ...string) string {
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return ""
		}
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(out, "|")
}
