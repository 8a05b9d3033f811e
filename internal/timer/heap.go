// Package timer runs callbacks at points in time, ordered by a min-heap.
// Recurring jobs such as the periodic sweep reschedule themselves after
// each run.
package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-alerts/internal/logger"
)

// ErrSchedulerStopped is returned when scheduling on a stopped scheduler
var ErrSchedulerStopped = errors.New("scheduler is stopped")

// Task is a callback due at a point in time
type Task struct {
	ID       string
	DueAt    time.Time
	Callback func()
	// Every is non-zero for recurring tasks
	Every time.Duration
	index int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of Tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler fires tasks when they fall due. Callbacks run on their own
// goroutine; Stop waits for running callbacks to return.
type Scheduler struct {
	heap    taskHeap
	tasks   map[string]*Task
	mu      sync.Mutex
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
	running sync.WaitGroup
	log     zerolog.Logger
}

// NewScheduler creates a scheduler. Call Start to begin firing tasks.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		heap:   make(taskHeap, 0),
		tasks:  make(map[string]*Task),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		log:    logger.WithComponent("scheduler"),
	}
	heap.Init(&s.heap)
	return s
}

// Start runs the scheduling loop in the background
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the loop and waits for in-flight callbacks
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.running.Wait()
}

// Schedule runs callback once at dueAt, replacing any task with the same ID
func (s *Scheduler) Schedule(id string, dueAt time.Time, callback func()) error {
	return s.add(&Task{ID: id, DueAt: dueAt, Callback: callback})
}

// Every runs callback every interval, first at now+interval. The next run
// is scheduled when the previous one returns, so runs never overlap.
func (s *Scheduler) Every(id string, interval time.Duration, callback func()) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	return s.add(&Task{ID: id, DueAt: time.Now().Add(interval), Callback: callback, Every: interval})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[task.ID]; ok && existing.index >= 0 {
		heap.Remove(&s.heap, existing.index)
	}

	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task

	// Wake up the loop if this is now the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a task. A recurring task that is currently running will
// not be rescheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	if task.index >= 0 {
		heap.Remove(&s.heap, task.index)
	}
	delete(s.tasks, id)
	return true
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			wait = time.Until(next.DueAt)
			if wait <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				if task.Every == 0 {
					delete(s.tasks, task.ID)
				}
				s.running.Add(1)
				go s.fire(task)
				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) fire(task *Task) {
	defer s.running.Done()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Str("task_id", task.ID).Msg("scheduled task panicked")
			}
		}()
		task.Callback()
	}()

	if task.Every == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Cancelled or replaced while running.
	if s.stopped || s.tasks[task.ID] != task {
		return
	}
	task.DueAt = time.Now().Add(task.Every)
	heap.Push(&s.heap, task)
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		Pending:        s.heap.Len(),
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	Pending        int
}
