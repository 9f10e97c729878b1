// Package memory is an in-process sched.Scheduler built on container/heap.
// A monotonic sequence number breaks ties within a priority band so FIFO
// submission order holds even when CreatedAt timestamps collide.
package memory

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/you/taskq/internal/domain"
	"github.com/you/taskq/internal/sched"
)

var _ sched.Scheduler = (*Scheduler)(nil)

type entry struct {
	id          string
	priority    int
	createdAt   time.Time
	availableAt time.Time
	seq         uint64
	pos         int // heap slot, maintained by Swap
}

type readyHeap []*entry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	if !h[i].createdAt.Equal(h[j].createdAt) {
		return h[i].createdAt.Before(h[j].createdAt)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *readyHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type delayHeap []*entry

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	if !h[i].availableAt.Equal(h[j].availableAt) {
		return h[i].availableAt.Before(h[j].availableAt)
	}
	return h[i].seq < h[j].seq
}

func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *delayHeap) Push(x any) {
	e := x.(*entry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type Scheduler struct {
	mu      sync.Mutex
	ready   readyHeap
	delay   delayHeap
	inReady map[string]*entry
	inDelay map[string]*entry
	seq     uint64
}

func New() *Scheduler {
	return &Scheduler{
		inReady: make(map[string]*entry),
		inDelay: make(map[string]*entry),
	}
}

func (s *Scheduler) newEntry(j *domain.Job) *entry {
	s.seq++
	return &entry{
		id:          j.ID,
		priority:    j.Priority,
		createdAt:   j.CreatedAt,
		availableAt: j.AvailableAt,
		seq:         s.seq,
	}
}

func (s *Scheduler) EnqueueWaiting(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.inReady[j.ID]; dup {
		return nil
	}
	e := s.newEntry(j)
	heap.Push(&s.ready, e)
	s.inReady[j.ID] = e
	return nil
}

func (s *Scheduler) EnqueueDelayed(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.inDelay[j.ID]; dup {
		return nil
	}
	e := s.newEntry(j)
	heap.Push(&s.delay, e)
	s.inDelay[j.ID] = e
	return nil
}

func (s *Scheduler) PopReady(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready.Len() == 0 {
		return "", false, nil
	}
	e := heap.Pop(&s.ready).(*entry)
	delete(s.inReady, e.id)
	return e.id, true, nil
}

func (s *Scheduler) DueDelayed(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The heap only orders its root, so collect due entries with a scan
	// and sort the (normally tiny) result.
	var due []*entry
	for _, e := range s.delay {
		if !e.availableAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].availableAt.Equal(due[j].availableAt) {
			return due[i].availableAt.Before(due[j].availableAt)
		}
		return due[i].seq < due[j].seq
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]string, len(due))
	for i, e := range due {
		out[i] = e.id
	}
	return out, nil
}

func (s *Scheduler) Promote(_ context.Context, j *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.inDelay[j.ID]; ok {
		heap.Remove(&s.delay, e.pos)
		delete(s.inDelay, j.ID)
	}
	if _, dup := s.inReady[j.ID]; dup {
		return nil
	}
	e := s.newEntry(j)
	heap.Push(&s.ready, e)
	s.inReady[j.ID] = e
	return nil
}

func (s *Scheduler) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.inReady[id]; ok {
		heap.Remove(&s.ready, e.pos)
		delete(s.inReady, id)
	}
	if e, ok := s.inDelay[id]; ok {
		heap.Remove(&s.delay, e.pos)
		delete(s.inDelay, id)
	}
	return nil
}
