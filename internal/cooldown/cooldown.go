// Package cooldown tracks when each (user, location) pair was last alerted
// so the poller can skip pairs before spending a provider request on them.
package cooldown

import (
	"context"
	"fmt"
	"time"
)

// Store holds the most recent alert time per (user, location) pair.
type Store interface {
	// LastAlert returns false when the pair has never been alerted.
	LastAlert(ctx context.Context, userID, location string) (time.Time, bool, error)
	Record(ctx context.Context, userID, location string, at time.Time) error
}

// Source is the persisted alert log a store falls back to on a cache miss.
type Source interface {
	LatestAlertAt(ctx context.Context, userID, location string) (time.Time, bool, error)
}

// Key identifies a (user, location) pair.
type Key struct {
	UserID   string
	Location string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.UserID, k.Location)
}

// Gate answers "is this pair still cooling down" against a fixed window.
type Gate struct {
	store  Store
	window time.Duration
	now    func() time.Time
}

// NewGate creates a gate with the given window. A non-positive window
// disables cooldown.
func NewGate(store Store, window time.Duration) *Gate {
	return &Gate{store: store, window: window, now: time.Now}
}

// WithClock replaces the gate's time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Window returns the configured cooldown window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// Active reports whether the pair was alerted within the gate's window.
func (g *Gate) Active(ctx context.Context, userID, location string) (bool, error) {
	return g.IsWithinCooldown(ctx, userID, location, g.window)
}

// IsWithinCooldown reports whether the pair was alerted less than window ago.
func (g *Gate) IsWithinCooldown(ctx context.Context, userID, location string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	last, ok, err := g.store.LastAlert(ctx, userID, location)
	if err != nil {
		return false, fmt.Errorf("cooldown lookup %s/%s: %w", userID, location, err)
	}
	if !ok {
		return false, nil
	}
	return g.now().Sub(last) < window, nil
}

// Mark records a freshly emitted alert.
func (g *Gate) Mark(ctx context.Context, userID, location string, at time.Time) error {
	return g.store.Record(ctx, userID, location, at)
}

// Prune drops cached entries that can no longer gate anything. It is a
// no-op for stores that expire entries on their own.
func (g *Gate) Prune() int {
	if p, ok := g.store.(interface{ Prune(time.Time) int }); ok {
		return p.Prune(g.now().Add(-g.window))
	}
	return 0
}
