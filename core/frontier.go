package core

// frontierEntry is a snapshot of a node's priority at push time. A node that
// is re-opened gets a fresh entry; the older one goes stale and is dropped
// when popped because its g no longer matches the arena.
type frontierEntry struct {
	node NodeID
	g    float64
	f    float64
	h    float64
	seq  uint64
}

// frontier is a binary min-heap for container/heap. Ties on f are broken by
// lower h, then by insertion order.
type frontier []frontierEntry

func (q frontier) Len() int { return len(q) }

func (q frontier) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	if q[i].h != q[j].h {
		return q[i].h < q[j].h
	}
	return q[i].seq < q[j].seq
}

func (q frontier) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontier) Push(x any) {
	*q = append(*q, x.(frontierEntry))
}

func (q *frontier) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
