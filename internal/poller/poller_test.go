package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
)

type mockFetcher struct {
	mu      sync.Mutex
	calls   []string
	times   []time.Time
	indexes map[string]int
	errs    map[string]error
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *mockFetcher) Fetch(ctx context.Context, location string) (*aqi.Reading, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxInFlight.Load()
		if n <= cur || m.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, location)
	m.times = append(m.times, time.Now())
	err := m.errs[location]
	index := m.indexes[location]
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return aqi.NewReading(location, index, aqi.PM25, time.Now()), nil
}

func (m *mockFetcher) called(location string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.calls {
		if c == location {
			return true
		}
	}
	return false
}

type mockCooldown struct {
	active map[string]bool // key: user/location
	err    error
	order  *[]string
	mu     sync.Mutex
}

func (m *mockCooldown) Active(ctx context.Context, userID, location string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order != nil {
		*m.order = append(*m.order, "cooldown:"+location)
	}
	if m.err != nil {
		return false, m.err
	}
	return m.active[userID+"/"+location], nil
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) handle(ctx context.Context, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
}

func (c *collector) byOutcome(o Outcome) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Result
	for _, r := range c.results {
		if r.Outcome == o {
			out = append(out, r)
		}
	}
	return out
}

func user(id string, enable bool, locs ...database.MonitoredLocation) *database.User {
	return &database.User{
		ID:                 id,
		Preferences:        database.AlertPreferences{EnableAlerts: enable, AQIAlertThreshold: 150},
		MonitoredLocations: locs,
	}
}

func loc(name string, enabled bool) database.MonitoredLocation {
	return database.MonitoredLocation{Name: name, AlertEnabled: enabled}
}

func TestEligiblePairs(t *testing.T) {
	users := []*database.User{
		user("u1", true, loc("Paris", true), loc("Lyon", false), loc("Paris", true)),
		user("u2", false, loc("Berlin", true)),
		user("u3", true),
		user("u4", true, loc("Oslo", true), loc("", true)),
		nil,
	}

	pairs := EligiblePairs(users)
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d: %+v", len(pairs), pairs)
	}
	if pairs[0].User.ID != "u1" || pairs[0].Location.Name != "Paris" {
		t.Errorf("Unexpected first pair %s/%s", pairs[0].User.ID, pairs[0].Location.Name)
	}
	if pairs[1].User.ID != "u4" || pairs[1].Location.Name != "Oslo" {
		t.Errorf("Unexpected second pair %s/%s", pairs[1].User.ID, pairs[1].Location.Name)
	}
}

func TestPoll_CooldownSkipsFetch(t *testing.T) {
	fetcher := &mockFetcher{indexes: map[string]int{"Paris": 220, "Lyon": 90}}
	cd := &mockCooldown{active: map[string]bool{"u1/Paris": true}}
	p := New(Config{Fetcher: fetcher, Cooldown: cd, Workers: 1})

	pairs := EligiblePairs([]*database.User{user("u1", true, loc("Paris", true), loc("Lyon", true))})
	var c collector
	p.Poll(context.Background(), pairs, c.handle)

	if fetcher.called("Paris") {
		t.Error("Pair in cooldown must not reach the provider")
	}
	if !fetcher.called("Lyon") {
		t.Error("Expected Lyon to be fetched")
	}
	if n := len(c.byOutcome(OutcomeCooldown)); n != 1 {
		t.Errorf("Expected 1 cooldown result, got %d", n)
	}
	fetched := c.byOutcome(OutcomeFetched)
	if len(fetched) != 1 || fetched[0].Reading.Index != 90 {
		t.Errorf("Expected Lyon reading 90, got %+v", fetched)
	}
}

func TestPoll_FailureIsolation(t *testing.T) {
	fetcher := &mockFetcher{
		indexes: map[string]int{"Paris": 80, "Oslo": 40},
		errs:    map[string]error{"Atlantis": errors.New("no data for location")},
	}
	p := New(Config{Fetcher: fetcher, Workers: 1})

	pairs := EligiblePairs([]*database.User{
		user("u1", true, loc("Paris", true), loc("Atlantis", true), loc("Oslo", true)),
	})
	var c collector
	p.Poll(context.Background(), pairs, c.handle)

	if n := len(c.byOutcome(OutcomeFetched)); n != 2 {
		t.Errorf("Expected 2 fetched results, got %d", n)
	}
	failed := c.byOutcome(OutcomeFailed)
	if len(failed) != 1 || failed[0].Location.Name != "Atlantis" || failed[0].Err == nil {
		t.Errorf("Expected Atlantis failure with error, got %+v", failed)
	}
}

func TestPoll_CooldownErrorFailsClosed(t *testing.T) {
	fetcher := &mockFetcher{}
	cd := &mockCooldown{err: errors.New("redis down")}
	p := New(Config{Fetcher: fetcher, Cooldown: cd})

	var c collector
	p.Poll(context.Background(), EligiblePairs([]*database.User{user("u1", true, loc("Paris", true))}), c.handle)

	if fetcher.called("Paris") {
		t.Error("Fetch must not happen when the cooldown state is unknown")
	}
	if n := len(c.byOutcome(OutcomeFailed)); n != 1 {
		t.Errorf("Expected 1 failed result, got %d", n)
	}
}

func TestPoll_CooldownBeforeFetch(t *testing.T) {
	var order []string
	var mu sync.Mutex
	cd := &mockCooldown{active: map[string]bool{}, order: &order}
	fetcher := &mockFetcher{}
	p := New(Config{Fetcher: fetcher, Cooldown: cd})

	p.Poll(context.Background(), EligiblePairs([]*database.User{user("u1", true, loc("Paris", true))}),
		func(ctx context.Context, res Result) {
			mu.Lock()
			defer mu.Unlock()
			if !fetcher.called("Paris") {
				t.Error("Handler ran before fetch")
			}
			order = append(order, "handle")
		})

	if len(order) != 2 || order[0] != "cooldown:Paris" || order[1] != "handle" {
		t.Errorf("Unexpected order %v", order)
	}
}

func TestPoll_Pacing(t *testing.T) {
	fetcher := &mockFetcher{}
	p := New(Config{Fetcher: fetcher, Interval: 50 * time.Millisecond, Workers: 3})

	pairs := EligiblePairs([]*database.User{
		user("u1", true, loc("A", true), loc("B", true), loc("C", true), loc("D", true)),
	})
	var c collector
	start := time.Now()
	p.Poll(context.Background(), pairs, c.handle)
	elapsed := time.Since(start)

	// Burst of 1: the first fetch is immediate, each later one waits an interval.
	if elapsed < 140*time.Millisecond {
		t.Errorf("Expected pacing of ~150ms for 4 fetches, took %v", elapsed)
	}

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	for i := 1; i < len(fetcher.times); i++ {
		if gap := fetcher.times[i].Sub(fetcher.times[i-1]); gap < 40*time.Millisecond {
			t.Errorf("Fetches %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestPoll_WorkersRunInParallel(t *testing.T) {
	fetcher := &mockFetcher{delay: 100 * time.Millisecond}
	p := New(Config{Fetcher: fetcher, Workers: 4})

	pairs := EligiblePairs([]*database.User{
		user("u1", true, loc("A", true), loc("B", true), loc("C", true), loc("D", true)),
	})
	var c collector
	p.Poll(context.Background(), pairs, c.handle)

	if n := len(c.byOutcome(OutcomeFetched)); n != 4 {
		t.Errorf("Expected 4 fetched results, got %d", n)
	}
	if fetcher.maxInFlight.Load() < 2 {
		t.Errorf("Expected concurrent fetches with 4 workers, max in flight was %d", fetcher.maxInFlight.Load())
	}
}

func TestPoll_Cancellation(t *testing.T) {
	fetcher := &mockFetcher{}
	p := New(Config{Fetcher: fetcher, Interval: 100 * time.Millisecond, Workers: 1})

	var locs []database.MonitoredLocation
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		locs = append(locs, loc(name, true))
	}
	pairs := EligiblePairs([]*database.User{user("u1", true, locs...)})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	var c collector
	start := time.Now()
	p.Poll(ctx, pairs, c.handle)

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Poll did not stop on cancellation, took %v", elapsed)
	}
	if n := len(c.byOutcome(OutcomeFetched)); n >= len(pairs) {
		t.Errorf("Expected cancellation to cut the sweep short, got %d results", n)
	}
	if n := len(c.byOutcome(OutcomeFailed)); n != 0 {
		t.Errorf("Cancelled pairs should not be reported as failures, got %d", n)
	}
}
