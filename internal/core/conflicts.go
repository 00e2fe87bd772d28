package core

import "fmt"

// Conflicts returns the value of a top-level key as seen from each head,
// in head order. Replicas with equal heads report equal slices. Entries
// differ when concurrent writers disagreed; the current value is the one the
// engine picked among them. A key a branch never set reads as nil.
func (d *Document) Conflicts(key string) ([]ChangeHash, []any, error) {
	heads := d.Heads()
	if len(heads) == 0 {
		return nil, nil, nil
	}

	all, err := d.ChangesSince(nil)
	if err != nil {
		return nil, nil, err
	}

	byHash := make(map[ChangeHash]Change, len(all))
	for _, c := range all {
		byHash[c.Hash] = c
	}

	values := make([]any, 0, len(heads))

	for _, head := range heads {
		branch := New()
		if err := branch.Apply(Order(ancestors(byHash, head))...); err != nil {
			return nil, nil, fmt.Errorf("replay %s: %w", head, err)
		}

		v, err := branch.doc.Path(key).Get()
		if err != nil {
			return nil, nil, fmt.Errorf("read %q at %s: %w", key, head, err)
		}

		values = append(values, v.Interface())
	}

	return heads, values, nil
}

// ancestors returns head and every change it transitively depends on.
func ancestors(byHash map[ChangeHash]Change, head ChangeHash) []Change {
	seen := map[ChangeHash]struct{}{head: {}}
	queue := []ChangeHash{head}

	var out []Change

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		c, ok := byHash[h]
		if !ok {
			continue
		}

		out = append(out, c)

		for _, dep := range c.Deps {
			if _, dup := seen[dep]; !dup {
				seen[dep] = struct{}{}
				queue = append(queue, dep)
			}
		}
	}

	return out
}
