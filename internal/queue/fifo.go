package queue

import (
	"container/list"

	"github.com/JakeFAU/crawlengine/internal/job"
)

// FIFO hands jobs out in insertion order and ignores priority.
type FIFO struct {
	*blocking
}

// NewFIFO returns an empty FIFO queue.
func NewFIFO() *FIFO {
	return &FIFO{blocking: newBlocking(newListStore())}
}

type listStore struct {
	order *list.List
	index map[*job.Job]*list.Element
}

func newListStore() *listStore {
	return &listStore{order: list.New(), index: make(map[*job.Job]*list.Element)}
}

func (s *listStore) push(j *job.Job) bool {
	if _, ok := s.index[j]; ok {
		return false
	}
	s.index[j] = s.order.PushBack(j)
	return true
}

func (s *listStore) pop() *job.Job {
	front := s.order.Front()
	if front == nil {
		return nil
	}
	j := s.order.Remove(front).(*job.Job)
	delete(s.index, j)
	return j
}

func (s *listStore) peek() *job.Job {
	if front := s.order.Front(); front != nil {
		return front.Value.(*job.Job)
	}
	return nil
}

func (s *listStore) remove(j *job.Job) bool {
	e, ok := s.index[j]
	if !ok {
		return false
	}
	s.order.Remove(e)
	delete(s.index, j)
	return true
}

func (s *listStore) len() int { return s.order.Len() }
