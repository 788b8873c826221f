package scheduler

import "container/heap"

// readyHeap orders scheduledTask entries by (execute-tick ascending,
// priority descending, insertion sequence ascending) as required by the
// ready-drain phase: ties within a tick are broken in favor of higher
// priority, and equal-priority ties preserve submission order.
type readyHeap []*scheduledTask

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.executeTick != b.executeTick {
		return a.executeTick < b.executeTick
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *readyHeap) Push(x any) {
	t := x.(*scheduledTask)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*readyHeap)(nil)
