package poller

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

// State is the externally visible phase of a Scheduler.
type State int32

const (
	Idle State = iota
	Polling
	Waiting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// SchedulerConfig holds what a Scheduler polls and where batches go.
type SchedulerConfig struct {
	Target  Target
	Handler BatchHandler
	Clock   clock.Clock
	Logger  Logger
	Metrics *metrics.Metrics

	// After, when set, delays the first attempt until it is closed. The
	// registry passes the exit channel of a stopped predecessor so a
	// draining RPC never overlaps a new one for the same mailbox.
	After <-chan struct{}
}

// Validate reports a missing Target or Handler.
func (c SchedulerConfig) Validate() error {
	if c.Target == nil {
		return errors.NotValidf("nil Target")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	return nil
}

// Scheduler polls one target in a loop: attempt, wait the target's
// interval, attempt again. Each Start launches a run worker; Stop kills it.
// Start and Stop never fail and never block on the network.
type Scheduler struct {
	cfg SchedulerConfig

	mu    sync.Mutex
	state State
	run   *run
	// prev is closed when the last run has exited.
	prev <-chan struct{}

	inFlight atomic.Bool
}

// NewScheduler returns an Idle scheduler; nothing runs until Start.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Scheduler{cfg: cfg, prev: cfg.After}, nil
}

func (s *Scheduler) Identity() swarmpoll.Identity { return s.cfg.Target.Identity() }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InFlight reports whether a retrieval attempt is running right now.
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

// Start begins polling immediately. It does nothing unless Idle.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return
	}

	r := &run{s: s, prev: s.prev, done: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &r.catacomb,
		Work: r.loop,
	}); err != nil {
		s.cfg.Logger.Errorf("starting poller for %s: %v", s.Identity(), err)
		r.cancel()
		return
	}
	s.run = r
	s.prev = r.done
	s.state = Polling
	s.cfg.Metrics.PollerStarted(s.Identity().Kind.String())
}

// Stop cancels the current run. An outstanding RPC is left to drain and its
// result is discarded. Use Wait to block until the run has exited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	s.run.Kill()
	s.run = nil
	s.state = Idle
	s.cfg.Metrics.PollerStopped(s.Identity().Kind.String())
}

// Done returns a channel closed once the most recent run has exited. It is
// nil if the scheduler never ran.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// Wait blocks until the most recent run has exited.
func (s *Scheduler) Wait() {
	if done := s.Done(); done != nil {
		<-done
	}
}

// setState records st unless r has been superseded by Stop.
func (s *Scheduler) setState(r *run, st State) {
	s.mu.Lock()
	if s.run == r {
		s.state = st
	}
	s.mu.Unlock()
}

// run is one Start..Stop span of a scheduler.
type run struct {
	catacomb catacomb.Catacomb
	s        *Scheduler
	prev     <-chan struct{}
	done     chan struct{}

	// ctx is canceled by Kill before the catacomb starts dying, so an
	// attempt sees the stop as soon as Kill returns.
	ctx    context.Context
	cancel context.CancelFunc
}

var _ worker.Worker = (*run)(nil)

func (r *run) Kill() {
	r.cancel()
	r.catacomb.Kill(nil)
}

func (r *run) Wait() error { return r.catacomb.Wait() }

func (r *run) dying() bool {
	select {
	case <-r.catacomb.Dying():
		return true
	default:
		return false
	}
}

func (r *run) loop() error {
	defer close(r.done)

	if r.prev != nil {
		select {
		case <-r.prev:
		case <-r.catacomb.Dying():
			return r.catacomb.ErrDying()
		}
	}

	s := r.s
	defer r.cancel()
	ctx := r.catacomb.Context(r.ctx)
	for {
		s.setState(r, Polling)
		r.attempt(ctx)
		if r.dying() {
			return r.catacomb.ErrDying()
		}

		interval := s.cfg.Target.Interval(s.cfg.Clock.Now())
		s.setState(r, Waiting)
		timer := s.cfg.Clock.NewTimer(interval)
		select {
		case <-r.catacomb.Dying():
			timer.Stop()
			return r.catacomb.ErrDying()
		case <-timer.Chan():
		}
	}
}

// attempt runs one retrieval and, unless the run was stopped meanwhile,
// hands the batch to the handler. Failures end the attempt and are logged;
// they never stop the loop.
func (r *run) attempt(ctx context.Context) {
	s := r.s
	id := s.cfg.Target.Identity()
	kind := id.Kind.String()

	s.inFlight.Store(true)
	defer s.inFlight.Store(false)
	started := s.cfg.Clock.Now()

	batch, err := s.cfg.Target.Retrieve(ctx)
	if r.dying() || errors.Is(err, swarmpoll.ErrPollingCanceled) {
		s.cfg.Metrics.Poll(kind, metrics.ResultCanceled, s.cfg.Clock.Now().Sub(started))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, swarmpoll.ErrInsufficientSwarm):
		s.cfg.Logger.Debugf("%v", swarmpoll.NewPollError("retrieve", id, err))
		s.cfg.Metrics.Poll(kind, metrics.ResultInsufficient, s.cfg.Clock.Now().Sub(started))
		return
	default:
		s.cfg.Logger.Warningf("%v", swarmpoll.NewPollError("retrieve", id, err))
		s.cfg.Metrics.Poll(kind, metrics.ResultError, s.cfg.Clock.Now().Sub(started))
		return
	}

	res, err := s.cfg.Handler.Handle(ctx, id, batch)
	if res.Dispatched > 0 {
		s.cfg.Logger.Debugf("%s: %d new messages from %s", id, res.Dispatched, batch.Node)
	}
	if errors.Is(err, swarmpoll.ErrPollingCanceled) {
		s.cfg.Metrics.Poll(kind, metrics.ResultCanceled, s.cfg.Clock.Now().Sub(started))
		return
	}
	if err != nil {
		s.cfg.Logger.Warningf("%v", swarmpoll.NewPollError("handle", id, err))
	}
	s.cfg.Metrics.Poll(kind, metrics.ResultOK, s.cfg.Clock.Now().Sub(started))
}
