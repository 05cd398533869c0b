package terminal

import "sort"

// entityCache is a terminal's copy of one entity list. Event patches are recorded
// against the number of fetches issued so far, so a list fetched before a patch
// cannot overwrite it when it arrives afterwards.
type entityCache[T any] struct {
	idOf    func(T) int64
	items   map[int64]T
	issued  uint64
	applied uint64
	touched map[int64]touch[T]
}

type touch[T any] struct {
	seq     uint64
	item    T
	removed bool
}

func newEntityCache[T any](idOf func(T) int64) *entityCache[T] {
	return &entityCache[T]{
		idOf:    idOf,
		items:   make(map[int64]T),
		touched: make(map[int64]touch[T]),
	}
}

// begin registers an outgoing fetch and returns its sequence number
func (c *entityCache[T]) begin() uint64 {
	c.issued++
	return c.issued
}

func (c *entityCache[T]) get(id int64) (T, bool) {
	item, ok := c.items[id]
	return item, ok
}

func (c *entityCache[T]) put(item T) {
	id := c.idOf(item)
	c.items[id] = item
	c.touched[id] = touch[T]{seq: c.issued, item: item}
}

func (c *entityCache[T]) remove(id int64) {
	delete(c.items, id)
	c.touched[id] = touch[T]{seq: c.issued, removed: true}
}

// replace installs the result of fetch seq. Results older than the last applied
// one are dropped. Patches made after fetch seq was issued survive it.
func (c *entityCache[T]) replace(seq uint64, fresh []T) bool {
	if seq <= c.applied {
		return false
	}
	c.applied = seq

	items := make(map[int64]T, len(fresh))
	for _, item := range fresh {
		items[c.idOf(item)] = item
	}
	for id, t := range c.touched {
		if t.seq < seq {
			delete(c.touched, id)
			continue
		}
		if t.removed {
			delete(items, id)
		} else {
			items[id] = t.item
		}
	}
	c.items = items
	return true
}

func (c *entityCache[T]) len() int { return len(c.items) }

// list returns the items ordered by less
func (c *entityCache[T]) list(less func(a, b T) bool) []T {
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
