// Package sweep runs one complete pass of polling and alerting over every
// eligible (user, location) pair and reports what it did.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/internal/poller"
)

var (
	// ErrSweepInProgress is returned when a sweep is triggered while another runs.
	ErrSweepInProgress = errors.New("a sweep is already running")
	// ErrStoreUnavailable marks a sweep that failed because persistence is down.
	ErrStoreUnavailable = errors.New("alert store unavailable")
	// ErrCancelled marks a sweep stopped before visiting every pair.
	ErrCancelled = errors.New("sweep cancelled")
)

// State of the orchestrator
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// UserStore reads users and reports store health
type UserStore interface {
	ListAlertingUsers(ctx context.Context) ([]*database.User, error)
	GetUser(ctx context.Context, userID string) (*database.User, error)
	Ping(ctx context.Context) error
}

// PairPoller visits pairs and reports a result for each
type PairPoller interface {
	Poll(ctx context.Context, pairs []poller.Pair, handle poller.Handler)
}

// AlertEmitter turns a reading into an alert when it crosses the threshold
type AlertEmitter interface {
	MaybeEmit(ctx context.Context, user *database.User, location string, reading *aqi.Reading) (*database.AlertRecord, error)
}

// CooldownMarker records emitted alerts so later polls skip the pair
type CooldownMarker interface {
	Mark(ctx context.Context, userID, location string, at time.Time) error
	Prune() int
}

// Validator checks that a sweep can run at all
type Validator interface {
	Validate() error
}

// Summary describes one finished sweep
type Summary struct {
	SweepID       string        `json:"sweepId"`
	State         string        `json:"state"`
	UsersChecked  int           `json:"usersChecked"`
	AlertsCreated int           `json:"alertsCreated"`
	PairsPolled   int           `json:"pairsPolled"`
	PairsSkipped  int           `json:"pairsSkipped"`
	PairsFailed   int           `json:"pairsFailed"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"durationNs"`
}

// Config holds the orchestrator's collaborators
type Config struct {
	Users    UserStore
	Poller   PairPoller
	Emitter  AlertEmitter
	Cooldown CooldownMarker
	// Provider is validated before any pair is visited. Optional.
	Provider Validator
}

// Orchestrator runs sweeps one at a time
type Orchestrator struct {
	users    UserStore
	poller   PairPoller
	emitter  AlertEmitter
	cooldown CooldownMarker
	provider Validator

	mu      sync.Mutex
	state   State
	current string
	cancel  context.CancelFunc
	last    *Summary
	lastErr error

	log zerolog.Logger
}

// New creates an orchestrator in the idle state
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		users:    cfg.Users,
		poller:   cfg.Poller,
		emitter:  cfg.Emitter,
		cooldown: cfg.Cooldown,
		provider: cfg.Provider,
		state:    StateIdle,
		log:      logger.WithComponent("sweep"),
	}
}

// State returns the current state. It is Running while a sweep is active
// and Idle otherwise; the outcome of the last sweep is in Last.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Last returns the summary and error of the most recent finished sweep
func (o *Orchestrator) Last() (*Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return nil, o.lastErr
	}
	s := *o.last
	return &s, o.lastErr
}

// Cancel stops the running sweep, if any, and returns its ID
func (o *Orchestrator) Cancel() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.cancel == nil {
		return "", false
	}
	o.cancel()
	return o.current, true
}

// Run sweeps every user with alerts enabled
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	return o.run(ctx, "all", func(ctx context.Context) ([]*database.User, error) {
		users, err := o.users.ListAlertingUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list users: %v", ErrStoreUnavailable, err)
		}
		return users, nil
	})
}

// RunForUser sweeps one user's locations. It shares the single-flight
// guard with Run.
func (o *Orchestrator) RunForUser(ctx context.Context, userID string) (*Summary, error) {
	return o.run(ctx, "user", func(ctx context.Context) ([]*database.User, error) {
		u, err := o.users.GetUser(ctx, userID)
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, err)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: get user %s: %v", ErrStoreUnavailable, userID, err)
		}
		return []*database.User{u}, nil
	})
}

func (o *Orchestrator) run(ctx context.Context, scope string, load func(context.Context) ([]*database.User, error)) (*Summary, error) {
	// Misconfiguration is reported once, before any state change or fetch.
	if o.provider != nil {
		if err := o.provider.Validate(); err != nil {
			metrics.SweepsTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	sweepCtx, summary, err := o.begin(ctx)
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	log := logger.WithSweep("sweep", summary.SweepID).With().Str("scope", scope).Logger()
	log.Info().Msg("sweep started")

	err = o.execute(sweepCtx, log, summary, load)
	o.finish(log, summary, err)
	return summary, err
}

// begin moves Idle to Running or rejects the trigger.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, *Summary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning {
		return nil, nil, fmt.Errorf("%w (sweep %s)", ErrSweepInProgress, o.current)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	summary := &Summary{
		SweepID:   uuid.New().String(),
		State:     StateRunning.String(),
		StartedAt: time.Now(),
	}

	o.state = StateRunning
	o.current = summary.SweepID
	o.cancel = cancel
	return sweepCtx, summary, nil
}

// finish records the terminal state and returns to Idle.
func (o *Orchestrator) finish(log zerolog.Logger, summary *Summary, err error) {
	summary.Duration = time.Since(summary.StartedAt)

	terminal, outcome := StateCompleted, "completed"
	if err != nil {
		terminal, outcome = StateFailed, "failed"
		if errors.Is(err, ErrCancelled) {
			outcome = "cancelled"
		}
	}
	summary.State = terminal.String()

	metrics.SweepsTotal.WithLabelValues(outcome).Inc()
	metrics.SweepDuration.Observe(summary.Duration.Seconds())

	evt := log.Info()
	if err != nil {
		evt = log.Error().Err(err)
	}
	evt.
		Str("state", summary.State).
		Int("users_checked", summary.UsersChecked).
		Int("alerts_created", summary.AlertsCreated).
		Int("pairs_polled", summary.PairsPolled).
		Int("pairs_skipped", summary.PairsSkipped).
		Int("pairs_failed", summary.PairsFailed).
		Dur("duration", summary.Duration).
		Msg("sweep finished")

	if o.cooldown != nil {
		if n := o.cooldown.Prune(); n > 0 {
			log.Debug().Int("pruned", n).Msg("cooldown entries pruned")
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	s := *summary
	o.last, o.lastErr = &s, err
	o.state = StateIdle
	o.current = ""
	o.cancel = nil
}

func (o *Orchestrator) execute(ctx context.Context, log zerolog.Logger, summary *Summary, load func(context.Context) ([]*database.User, error)) error {
	users, err := load(ctx)
	if err != nil {
		return err
	}

	pairs := poller.EligiblePairs(users)
	log.Debug().Int("users", len(users)).Int("pairs", len(pairs)).Msg("eligible pairs enumerated")

	var (
		mu            sync.Mutex
		visited       = make(map[string]bool)
		writeFailures int
	)

	o.poller.Poll(ctx, pairs, func(ctx context.Context, res poller.Result) {
		mu.Lock()
		visited[res.User.ID] = true
		switch res.Outcome {
		case poller.OutcomeFetched:
			summary.PairsPolled++
		case poller.OutcomeCooldown:
			summary.PairsSkipped++
		case poller.OutcomeFailed:
			summary.PairsFailed++
		}
		mu.Unlock()

		if res.Outcome != poller.OutcomeFetched {
			return
		}

		alert, err := o.emitter.MaybeEmit(ctx, res.User, res.Location.Name, res.Reading)
		if err != nil {
			log.Warn().Err(err).
				Str("user_id", res.User.ID).
				Str("location", res.Location.Name).
				Msg("alert write failed, skipping pair")
			mu.Lock()
			writeFailures++
			mu.Unlock()
			return
		}
		if alert == nil {
			return
		}

		mu.Lock()
		summary.AlertsCreated++
		mu.Unlock()

		if o.cooldown != nil {
			if err := o.cooldown.Mark(ctx, res.User.ID, res.Location.Name, alert.CreatedAt); err != nil {
				log.Warn().Err(err).
					Str("user_id", res.User.ID).
					Str("location", res.Location.Name).
					Msg("failed to record cooldown")
			}
		}
	})

	summary.UsersChecked = len(visited)

	if writeFailures > 0 {
		// Isolated write errors are tolerated; a dead store fails the sweep.
		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := o.users.Ping(pingCtx); err != nil {
			return fmt.Errorf("%w: %d alert writes failed: %v", ErrStoreUnavailable, writeFailures, err)
		}
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	return nil
}
