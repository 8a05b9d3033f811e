// Package poller walks monitored (user, location) pairs, skips those still
// in cooldown, and fetches current conditions for the rest at a paced rate.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/metrics"
)

// Fetcher retrieves the current reading for a location
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*aqi.Reading, error)
}

// CooldownChecker reports whether a pair was alerted recently
type CooldownChecker interface {
	Active(ctx context.Context, userID, location string) (bool, error)
}

var errCancelled = errors.New("sweep cancelled")

// Pair is one user watching one location
type Pair struct {
	User     *database.User
	Location database.MonitoredLocation
}

// Outcome classifies what happened to a pair
type Outcome int

const (
	OutcomeFetched Outcome = iota
	OutcomeCooldown
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "polled"
	case OutcomeCooldown:
		return "cooldown"
	default:
		return "failed"
	}
}

// Result is handed to the caller once per pair. Reading is set only for
// OutcomeFetched and Err only for OutcomeFailed.
type Result struct {
	Pair
	Outcome Outcome
	Reading *aqi.Reading
	Err     error
}

// Handler consumes results. It may be called from several goroutines at once.
type Handler func(ctx context.Context, res Result)

// Config holds poller settings
type Config struct {
	Fetcher  Fetcher
	Cooldown CooldownChecker
	// Interval is the minimum spacing between fetches across all workers.
	Interval time.Duration
	Workers  int
}

// Poller paces provider fetches for a set of pairs
type Poller struct {
	fetcher  Fetcher
	cooldown CooldownChecker
	limiter  *rate.Limiter
	workers  int
	log      zerolog.Logger
}

// New creates a poller. The limiter is shared by every Poll call so
// back-to-back sweeps cannot exceed the provider budget either.
func New(cfg Config) *Poller {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Poller{
		fetcher:  cfg.Fetcher,
		cooldown: cfg.Cooldown,
		limiter:  rate.NewLimiter(limit, 1),
		workers:  cfg.Workers,
		log:      logger.WithComponent("poller"),
	}
}

// EligiblePairs flattens users into the pairs a sweep must visit: users with
// alerts enabled, locations with alerts enabled, each (user, location) once.
func EligiblePairs(users []*database.User) []Pair {
	var pairs []Pair
	for _, u := range users {
		if u == nil || !u.Preferences.EnableAlerts {
			continue
		}
		seen := make(map[string]bool, len(u.MonitoredLocations))
		for _, loc := range u.MonitoredLocations {
			if !loc.AlertEnabled || loc.Name == "" || seen[loc.Name] {
				continue
			}
			seen[loc.Name] = true
			pairs = append(pairs, Pair{User: u, Location: loc})
		}
	}
	return pairs
}

// Poll visits every pair and calls handle with its result. It returns once
// all pairs are handled or ctx is cancelled; pairs not reached before
// cancellation are dropped without a result. For each pair the cooldown
// check happens before the fetch, and the fetch before handle.
func (p *Poller) Poll(ctx context.Context, pairs []Pair, handle Handler) {
	if len(pairs) == 0 {
		return
	}

	workers := p.workers
	if workers > len(pairs) {
		workers = len(pairs)
	}

	jobs := make(chan Pair)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := p.log.With().Int("worker_id", id).Logger()
			for pair := range jobs {
				p.process(ctx, log, pair, handle)
			}
		}(i)
	}

feed:
	for _, pair := range pairs {
		select {
		case jobs <- pair:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func (p *Poller) process(ctx context.Context, log zerolog.Logger, pair Pair, handle Handler) {
	log = log.With().Str("user_id", pair.User.ID).Str("location", pair.Location.Name).Logger()

	// One bad pair must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("pair panic recovered")
			metrics.PairsTotal.WithLabelValues(OutcomeFailed.String()).Inc()
		}
	}()

	if ctx.Err() != nil {
		return
	}

	res := p.poll(ctx, log, pair)
	if res.Outcome == OutcomeFailed && (ctx.Err() != nil || errors.Is(res.Err, errCancelled)) {
		// Cancelled mid-pair; not a provider failure.
		return
	}
	metrics.PairsTotal.WithLabelValues(res.Outcome.String()).Inc()
	handle(ctx, res)
}

func (p *Poller) poll(ctx context.Context, log zerolog.Logger, pair Pair) Result {
	res := Result{Pair: pair}

	if p.cooldown != nil {
		active, err := p.cooldown.Active(ctx, pair.User.ID, pair.Location.Name)
		if err != nil {
			log.Warn().Err(err).Msg("cooldown check failed, skipping pair")
			res.Outcome, res.Err = OutcomeFailed, err
			return res
		}
		if active {
			log.Debug().Msg("pair in cooldown, skipping fetch")
			res.Outcome = OutcomeCooldown
			return res
		}
	}

	// Wait fails early when the next slot lies past the context deadline.
	if err := p.limiter.Wait(ctx); err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("%w: %v", errCancelled, err)
		return res
	}

	reading, err := p.fetcher.Fetch(ctx, pair.Location.Name)
	if err != nil {
		log.Warn().Err(err).Msg("fetch failed, skipping pair")
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if reading == nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("provider returned no reading")
		return res
	}

	log.Debug().Int("aqi", reading.Index).Str("category", reading.Category.String()).Msg("reading fetched")
	res.Outcome, res.Reading = OutcomeFetched, reading
	return res
}
