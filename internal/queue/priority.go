package queue

import (
	"container/heap"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// Priority hands out the most urgent job first; equal priorities leave in
// insertion order. A job offered without a priority attribute gets the default
// one on insertion.
//
// The heap keys on the priority a job had when it was inserted, so a job's
// priority must only change while it is outside the queue.
type Priority struct {
	*blocking
}

// NewPriority returns an empty priority queue.
func NewPriority() *Priority {
	b := newBlocking(newHeapStore())
	b.prepare = func(j *job.Job) { j.EnsurePriority() }
	return &Priority{blocking: b}
}

type heapItem struct {
	job      *job.Job
	priority job.Priority
	seq      uint64
	index    int
}

type jobHeap []*heapItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, k int) bool {
	if h[i].priority != h[k].priority {
		return h[i].priority.MoreUrgentThan(h[k].priority)
	}
	return h[i].seq < h[k].seq
}

func (h jobHeap) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}

func (h *jobHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

type heapStore struct {
	heap  jobHeap
	items map[*job.Job]*heapItem
	seq   uint64
}

func newHeapStore() *heapStore {
	return &heapStore{items: make(map[*job.Job]*heapItem)}
}

func (s *heapStore) push(j *job.Job) bool {
	if _, ok := s.items[j]; ok {
		return false
	}
	s.seq++
	item := &heapItem{job: j, priority: j.Priority(), seq: s.seq}
	heap.Push(&s.heap, item)
	s.items[j] = item
	return true
}

func (s *heapStore) pop() *job.Job {
	if len(s.heap) == 0 {
		return nil
	}
	item := heap.Pop(&s.heap).(*heapItem)
	delete(s.items, item.job)
	return item.job
}

func (s *heapStore) peek() *job.Job {
	if len(s.heap) == 0 {
		return nil
	}
	return s.heap[0].job
}

func (s *heapStore) remove(j *job.Job) bool {
	item, ok := s.items[j]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, item.index)
	delete(s.items, j)
	return true
}

func (s *heapStore) len() int { return len(s.heap) }
