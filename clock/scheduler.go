package clock

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler is a min-heap of armed deadlines, used by the transmit
// scheduler (spec §4.10) and by any other component that must sleep until
// the earliest of several deadlines and be woken early when a sooner one
// is armed. It mirrors the teacher's hand-rolled container/heap types
// (sendPacketHeap, packetIDHeap, acceptSockHeap) rather than pulling in a
// generic priority-queue dependency.
type Scheduler struct {
	mu      sync.Mutex
	items   schedHeap
	wake    chan struct{}
	seq     uint64
}

// NewScheduler creates an empty Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{wake: make(chan struct{}, 1)}
}

type schedItem struct {
	deadline time.Time
	order    uint64 // FIFO tiebreak for equal deadlines (spec §4.10)
	key      interface{}
	index    int
}

type schedHeap []*schedItem

func (h schedHeap) Len() int { return len(h) }
func (h schedHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].order < h[j].order
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h schedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *schedHeap) Push(x interface{}) {
	it := x.(*schedItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *schedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Arm schedules (or reschedules, if key is already present) a wake-up for
// key at deadline. Rescheduling to a sooner time wakes any blocked Wait.
func (s *Scheduler) Arm(key interface{}, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.key == key {
			it.deadline = deadline
			it.order = s.nextOrder()
			heap.Fix(&s.items, it.index)
			s.notify()
			return
		}
	}
	heap.Push(&s.items, &schedItem{deadline: deadline, order: s.nextOrder(), key: key})
	s.notify()
}

// Disarm removes key's pending wake-up, if any.
func (s *Scheduler) Disarm(key interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.key == key {
			heap.Remove(&s.items, i)
			return
		}
	}
}

func (s *Scheduler) nextOrder() uint64 {
	s.seq++
	return s.seq
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next returns the key and deadline of the earliest-armed item, or ok=false
// if the scheduler is empty.
func (s *Scheduler) Next() (key interface{}, deadline time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, time.Time{}, false
	}
	return s.items[0].key, s.items[0].deadline, true
}

// Pop removes and returns the earliest-armed item.
func (s *Scheduler) Pop() (key interface{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&s.items).(*schedItem)
	return it.key, true
}

// Wait blocks until the earliest deadline (if any) is reached according
// to clk, or done fires. A re-arm wakes it to re-check the earliest
// deadline, returning at once if that one is already due. With an empty
// heap it blocks until an Arm or done.
func (s *Scheduler) Wait(clk Clock, done <-chan struct{}) {
	for {
		_, deadline, ok := s.Next()
		var timer <-chan time.Time
		if ok {
			d := deadline.Sub(clk.Now())
			if d <= 0 {
				return
			}
			timer = clk.After(d)
		}
		select {
		case <-timer:
			return
		case <-s.wake:
			continue
		case <-done:
			return
		}
	}
}
