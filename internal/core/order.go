package core

import "slices"

// Order sorts changes so every change follows the dependencies it has within
// the slice. Ties are broken by hash, which makes the result deterministic.
// Changes whose dependencies are outside the slice are treated as roots.
func Order(chs []Change) []Change {
	if len(chs) < 2 {
		return chs
	}

	byHash := make(map[ChangeHash]Change, len(chs))
	indegree := make(map[ChangeHash]int, len(chs))
	children := make(map[ChangeHash][]ChangeHash, len(chs))

	for _, c := range chs {
		byHash[c.Hash] = c
		indegree[c.Hash] = 0
	}

	for h, c := range byHash {
		for _, dep := range c.Deps {
			if _, ok := byHash[dep]; !ok {
				continue
			}

			indegree[h]++
			children[dep] = append(children[dep], h)
		}
	}

	var ready []ChangeHash

	for h, n := range indegree {
		if n == 0 {
			ready = append(ready, h)
		}
	}

	out := make([]Change, 0, len(byHash))

	for len(ready) > 0 {
		SortHashes(ready)
		next := ready[0]
		ready = ready[1:]

		out = append(out, byHash[next])

		for _, child := range children[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	// A cycle cannot come from real hashes; keep the leftovers rather than lose them.
	if len(out) < len(byHash) {
		var rest []Change

		for h, n := range indegree {
			if n > 0 {
				rest = append(rest, byHash[h])
			}
		}

		slices.SortFunc(rest, func(a, b Change) int { return a.Hash.Compare(b.Hash) })
		out = append(out, rest...)
	}

	return out
}
