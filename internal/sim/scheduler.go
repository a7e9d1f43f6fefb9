// Package sim owns simulated time: the clock, the entity arena and the
// scheduler that drives ticks.
package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/metrics"
)

// ErrAlreadyStarted is returned by Start and Run on a scheduler that has
// already been started.
var ErrAlreadyStarted = errors.New("already_started")

// State is the externally visible lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StatePaused
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

const (
	phaseIdle int32 = iota
	phaseStarted
	phaseFinished
)

// Config configures a Scheduler.
type Config struct {
	Iterations   int64         // ticks to run before finishing
	TickInterval time.Duration // minimum wall time between ticks; 0 runs free
	PollInterval time.Duration // sleep between loop spins while waiting
	StartPaused  bool          // only manual steps advance until Unpause
	Logger       *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Iterations:   1000,
		PollInterval: 5 * time.Millisecond,
	}
}

type tier struct {
	priority int
	entities []Entity
}

func tierLess(a, b *tier) bool {
	return a.priority < b.priority
}

// Scheduler drives the update loop. A single goroutine runs ticks; other
// goroutines may only call Pause, Unpause, Step, Kill and the read-only
// accessors. Add must be called before Start or from inside an update.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger
	clock  *Clock
	arena  *Arena

	tiers   *btree.BTreeG[*tier]
	members map[domain.Key]struct{}

	phase      atomic.Int32
	finishOnce sync.Once

	// mu guards the control flags only, never simulation state.
	mu           sync.Mutex
	shouldUpdate bool
	paused       bool
	killed       bool
}

// New creates a scheduler with its own clock and arena.
func New(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.TickInterval < 0 {
		cfg.TickInterval = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := &Clock{}
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		arena:   NewArena(clock),
		tiers:   btree.NewG[*tier](8, tierLess),
		members: make(map[domain.Key]struct{}),
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() *Clock { return s.clock }

// Arena returns the scheduler's entity arena.
func (s *Scheduler) Arena() *Arena { return s.arena }

// Now returns the current tick.
func (s *Scheduler) Now() domain.Tick { return s.clock.Now() }

// Iterations returns the configured tick bound.
func (s *Scheduler) Iterations() int64 { return s.cfg.Iterations }

// TimeRemaining returns the number of ticks left before the bound.
func (s *Scheduler) TimeRemaining() int64 {
	rem := s.cfg.Iterations - int64(s.clock.Now())
	if rem < 0 {
		return 0
	}
	return rem
}

// IsOpen reports whether the scheduler has started and not finished.
func (s *Scheduler) IsOpen() bool {
	return s.phase.Load() == phaseStarted
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	switch s.phase.Load() {
	case phaseIdle:
		return StateNotStarted
	case phaseFinished:
		return StateFinished
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return StatePaused
	}
	return StateRunning
}

// Add registers e into its tier, behind every entity already in that
// tier, and then registers its dependents. Adding a key twice is a no-op
// and returns false.
func (s *Scheduler) Add(e Entity) bool {
	key := e.Key()
	if _, ok := s.members[key]; ok {
		return false
	}
	s.members[key] = struct{}{}
	s.arena.Put(key, e)

	t, ok := s.tiers.Get(&tier{priority: e.Tier()})
	if !ok {
		t = &tier{priority: e.Tier()}
		s.tiers.ReplaceOrInsert(t)
	}
	t.entities = append(t.entities, e)

	if a, ok := e.(Attacher); ok {
		a.Attach(s)
	}
	if s.phase.Load() == phaseStarted {
		if st, ok := e.(Starter); ok {
			st.OnStart()
		}
	}
	if p, ok := e.(Parent); ok {
		for _, d := range p.Dependents() {
			s.Add(d)
		}
	}
	return true
}

// Has reports whether an entity with key is registered.
func (s *Scheduler) Has(key domain.Key) bool {
	_, ok := s.members[key]
	return ok
}

// Entities returns all registered entities in update order.
func (s *Scheduler) Entities() []Entity {
	var out []Entity
	s.tiers.Ascend(func(t *tier) bool {
		out = append(out, t.entities...)
		return true
	})
	return out
}

// Start moves the scheduler to running (or paused when configured so)
// and runs every on-start hook in update order.
func (s *Scheduler) Start() error {
	if !s.phase.CompareAndSwap(phaseIdle, phaseStarted) {
		return ErrAlreadyStarted
	}
	s.mu.Lock()
	s.paused = s.cfg.StartPaused
	s.mu.Unlock()

	for _, e := range s.Entities() {
		if st, ok := e.(Starter); ok {
			st.OnStart()
		}
	}
	s.logger.Info("simulation started",
		slog.Int64("iterations", s.cfg.Iterations),
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Bool("paused", s.cfg.StartPaused),
	)
	return nil
}

// Advance runs one tick synchronously on the calling goroutine. It
// ignores the pause flag and returns false when the scheduler is not
// running, was killed, or reached its iteration bound.
func (s *Scheduler) Advance() bool {
	if s.phase.Load() != phaseStarted || s.done() {
		return false
	}
	s.update()
	return true
}

// Finish runs every on-finish hook once, in update order, and moves the
// scheduler to finished. Later calls are no-ops.
func (s *Scheduler) Finish() {
	s.finishOnce.Do(func() {
		started := s.phase.Swap(phaseFinished) == phaseStarted
		if !started {
			return
		}
		for _, e := range s.Entities() {
			if f, ok := e.(Finisher); ok {
				f.OnFinish()
			}
		}
		s.mu.Lock()
		killed := s.killed
		s.mu.Unlock()
		s.logger.Info("simulation finished",
			slog.Int64("tick", int64(s.clock.Now())),
			slog.Bool("killed", killed),
		)
	})
}

// Run starts the scheduler and drives ticks until the iteration bound is
// reached, Kill is called, or ctx is cancelled. On-finish hooks always
// run before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Finish()

	var last time.Time
	for {
		if ctx.Err() != nil {
			s.Kill()
		}

		s.mu.Lock()
		killed, paused, step := s.killed, s.paused, s.shouldUpdate
		s.shouldUpdate = false
		s.mu.Unlock()

		if killed || int64(s.clock.Now()) >= s.cfg.Iterations {
			break
		}
		if step || (!paused && time.Since(last) >= s.cfg.TickInterval) {
			s.update()
			last = time.Now()
			continue
		}
		time.Sleep(s.cfg.PollInterval)
	}
	return ctx.Err()
}

// Pause stops wall-clock ticks. Manual steps still advance.
func (s *Scheduler) Pause() bool {
	return s.setPaused(true)
}

// Unpause resumes wall-clock ticks.
func (s *Scheduler) Unpause() bool {
	return s.setPaused(false)
}

func (s *Scheduler) setPaused(paused bool) bool {
	if s.phase.Load() == phaseFinished {
		return false
	}
	s.mu.Lock()
	if s.killed || s.paused == paused {
		s.mu.Unlock()
		return false
	}
	s.paused = paused
	s.mu.Unlock()

	if paused {
		s.logger.Info("simulation paused", slog.Int64("tick", int64(s.clock.Now())))
	} else {
		s.logger.Info("simulation resumed", slog.Int64("tick", int64(s.clock.Now())))
	}
	return true
}

// Step requests one manual tick. Requests made before the loop observes
// them coalesce into a single tick.
func (s *Scheduler) Step() bool {
	if s.phase.Load() == phaseFinished {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return false
	}
	s.shouldUpdate = true
	return true
}

// Kill requests early termination. It takes effect before the next tick
// begins, never mid-tick.
func (s *Scheduler) Kill() bool {
	if s.phase.Load() == phaseFinished {
		return false
	}
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return false
	}
	s.killed = true
	s.mu.Unlock()

	s.logger.Info("simulation killed", slog.Int64("tick", int64(s.clock.Now())))
	return true
}

func (s *Scheduler) done() bool {
	s.mu.Lock()
	killed := s.killed
	s.mu.Unlock()
	return killed || int64(s.clock.Now()) >= s.cfg.Iterations
}

// update runs every entity once in tier order, then advances the clock.
// Entities added during the pass join from the next tick.
func (s *Scheduler) update() {
	start := time.Now()
	for _, e := range s.Entities() {
		e.Update()
	}
	now := s.clock.advance()

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("tick", slog.Int64("tick", int64(now)))
}
