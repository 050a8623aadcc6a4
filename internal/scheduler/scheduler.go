// Package scheduler provides cooperative run-to-completion task dispatching.
package scheduler

import (
	"context"
	"sync"

	"github.com/fentz26/dqmote/internal/fault"
)

// Priority orders tasks in the ready queue. PriorityNone marks an empty slot.
type Priority uint8

const (
	PriorityNone Priority = iota
	PriorityMin
	PriorityMed
	PriorityMax
)

func (p Priority) String() string {
	switch p {
	case PriorityMin:
		return "min"
	case PriorityMed:
		return "med"
	case PriorityMax:
		return "max"
	default:
		return "none"
	}
}

// Task is a deferred unit of work. Name identifies the phase it runs.
type Task struct {
	Name string
	Run  func()
}

// Func wraps a plain function as a named task.
func Func(name string, fn func()) Task {
	return Task{Name: name, Run: fn}
}

// Pusher is the part of the scheduler interrupt handlers and timers use.
type Pusher interface {
	Push(task Task, prio Priority)
}

type slot struct {
	task Task
	prio Priority
	next *slot
}

// Stats holds scheduler counters.
type Stats struct {
	Pushed    uint64 `json:"pushed"`
	Executed  uint64 `json:"executed"`
	Pending   int    `json:"pending"`
	HighWater int    `json:"high_water"`
	PoolSize  int    `json:"pool_size"`
}

// Scheduler owns a bounded task pool and a priority-ordered ready queue.
type Scheduler struct {
	config *Config

	// Ready queue state, guarded by mu (the critical section shared with
	// interrupt-context pushers).
	mu        sync.Mutex
	pool      []slot
	used      int
	head      *slot
	pushed    uint64
	executed  uint64
	highWater int

	wake  chan struct{}
	idle  func()
	trace func(Task)
}

// New creates a new scheduler.
func New(cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = PoolSize
	}

	return &Scheduler{
		config: cfg,
		pool:   make([]slot, cfg.PoolSize),
		wake:   make(chan struct{}, 1),
	}
}

// SetIdleHook registers fn to run every time the loop enters its wait state.
func (s *Scheduler) SetIdleHook(fn func()) {
	s.idle = fn
}

// SetTrace registers fn to observe every task just before it runs.
func (s *Scheduler) SetTrace(fn func(Task)) {
	s.trace = fn
}

// Push enqueues a task. It is safe to call from interrupt context.
// A full pool is fatal.
func (s *Scheduler) Push(task Task, prio Priority) {
	if prio == PriorityNone || prio > PriorityMax {
		fault.Raise(fault.UnknownPriority, "task %q priority %d", task.Name, prio)
	}

	s.mu.Lock()
	free := s.freeSlot()
	if free == nil {
		s.mu.Unlock()
		fault.Raise(fault.SchedulerOverflow, "pool of %d exhausted pushing %q", len(s.pool), task.Name)
	}
	free.task = task
	free.prio = prio
	free.next = nil
	s.insert(free)
	s.used++
	s.pushed++
	if s.used > s.highWater {
		s.highWater = s.used
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// freeSlot returns an empty pool slot or nil. Caller holds mu.
func (s *Scheduler) freeSlot() *slot {
	for i := range s.pool {
		if s.pool[i].prio == PriorityNone {
			return &s.pool[i]
		}
	}
	return nil
}

// insert places n after every queued task of equal or higher priority.
// Caller holds mu.
func (s *Scheduler) insert(n *slot) {
	if s.head == nil || n.prio > s.head.prio {
		n.next = s.head
		s.head = n
		return
	}
	cur := s.head
	for cur.next != nil && cur.next.prio >= n.prio {
		cur = cur.next
	}
	n.next = cur.next
	cur.next = n
}

// pop unlinks the head of the ready queue. The slot stays occupied until the
// task has run.
func (s *Scheduler) pop() *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.head
	if n != nil {
		s.head = n.next
		n.next = nil
	}
	return n
}

func (s *Scheduler) release(n *slot) {
	s.mu.Lock()
	n.task = Task{}
	n.prio = PriorityNone
	s.used--
	s.executed++
	s.mu.Unlock()
}

// RunPending drains the ready queue, running each task to completion, and
// returns the number of tasks executed.
func (s *Scheduler) RunPending() int {
	n := 0
	for {
		next := s.pop()
		if next == nil {
			return n
		}
		task := next.task
		if s.trace != nil {
			s.trace(task)
		}
		if task.Run != nil {
			task.Run()
		}
		s.release(next)
		n++
	}
}

// RunForever drains the ready queue and waits for more work until ctx is done.
func (s *Scheduler) RunForever(ctx context.Context) error {
	for {
		s.RunPending()
		if s.idle != nil {
			s.idle()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Reset drops every queued task, as a device restart would.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pool {
		s.pool[i] = slot{}
	}
	s.head = nil
	s.used = 0
}

// Len returns the number of occupied pool slots.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pushed:    s.pushed,
		Executed:  s.executed,
		Pending:   s.used,
		HighWater: s.highWater,
		PoolSize:  len(s.pool),
	}
}
