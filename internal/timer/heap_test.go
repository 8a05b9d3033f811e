package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Schedule(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	executed := false
	var mu sync.Mutex

	err := s.Schedule("test1", time.Now().Add(100*time.Millisecond), func() {
		mu.Lock()
		executed = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	if !executed {
		t.Error("Task was not executed")
	}
	mu.Unlock()
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var executed atomic.Bool
	if err := s.Schedule("test1", time.Now().Add(100*time.Millisecond), func() { executed.Store(true) }); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if !s.Cancel("test1") {
		t.Error("Cancel returned false")
	}
	if s.Cancel("test1") {
		t.Error("Second cancel should return false")
	}

	time.Sleep(200 * time.Millisecond)
	if executed.Load() {
		t.Error("Task was executed despite being cancelled")
	}
}

func TestScheduler_Ordering(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var results []int
	var mu sync.Mutex
	record := func(n int) func() {
		return func() {
			mu.Lock()
			results = append(results, n)
			mu.Unlock()
		}
	}

	// Schedule tasks in reverse order
	s.Schedule("task3", time.Now().Add(150*time.Millisecond), record(3))
	s.Schedule("task1", time.Now().Add(50*time.Millisecond), record(1))
	s.Schedule("task2", time.Now().Add(100*time.Millisecond), record(2))

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("Tasks executed in wrong order: %v", results)
	}
}

func TestScheduler_RescheduleExisting(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var count atomic.Int32
	s.Schedule("test1", time.Now().Add(100*time.Millisecond), func() { count.Add(1) })
	// Same ID replaces the first task
	s.Schedule("test1", time.Now().Add(50*time.Millisecond), func() { count.Add(10) })

	time.Sleep(150 * time.Millisecond)

	if got := count.Load(); got != 10 {
		t.Errorf("Expected count=10 (only second task), got %d", got)
	}
}

func TestScheduler_Every(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var runs atomic.Int32
	if err := s.Every("sweep", 40*time.Millisecond, func() { runs.Add(1) }); err != nil {
		t.Fatalf("Every failed: %v", err)
	}

	time.Sleep(230 * time.Millisecond)
	s.Cancel("sweep")
	n := runs.Load()
	if n < 3 {
		t.Errorf("Expected at least 3 runs, got %d", n)
	}

	time.Sleep(100 * time.Millisecond)
	if runs.Load() > n+1 {
		t.Errorf("Recurring task kept running after cancel: %d -> %d", n, runs.Load())
	}
}

func TestScheduler_EveryDoesNotOverlap(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var inFlight, maxInFlight atomic.Int32
	s.Every("slow", 10*time.Millisecond, func() {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
	})

	time.Sleep(200 * time.Millisecond)
	if maxInFlight.Load() > 1 {
		t.Errorf("Recurring runs overlapped: %d in flight", maxInFlight.Load())
	}
}

func TestScheduler_EveryRejectsZeroInterval(t *testing.T) {
	s := NewScheduler()
	if err := s.Every("bad", 0, func() {}); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestScheduler_PanicDoesNotStopRecurrence(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	var runs atomic.Int32
	s.Every("flaky", 30*time.Millisecond, func() {
		runs.Add(1)
		panic("boom")
	})

	time.Sleep(150 * time.Millisecond)
	if runs.Load() < 2 {
		t.Errorf("Expected task to keep recurring after panic, got %d runs", runs.Load())
	}
}

func TestScheduler_Stats(t *testing.T) {
	s := NewScheduler()
	s.Start()
	defer s.Stop()

	s.Schedule("task1", time.Now().Add(1*time.Hour), func() {})
	s.Schedule("task2", time.Now().Add(2*time.Hour), func() {})
	s.Every("task3", time.Hour, func() {})

	stats := s.Stats()
	if stats.ScheduledTasks != 3 || stats.Pending != 3 {
		t.Errorf("Expected 3 scheduled tasks, got %+v", stats)
	}
}

func TestScheduler_StoppedRejectsTasks(t *testing.T) {
	s := NewScheduler()
	s.Start()
	s.Stop()
	s.Stop()

	if err := s.Schedule("late", time.Now(), func() {}); err != ErrSchedulerStopped {
		t.Errorf("Expected ErrSchedulerStopped, got %v", err)
	}
}
