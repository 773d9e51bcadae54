package poller

import (
	"sort"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

// TargetFactory builds the polling policy for an identity.
type TargetFactory interface {
	NewTarget(id swarmpoll.Identity) (Target, error)
}

// TargetFactoryFunc adapts a function to TargetFactory.
type TargetFactoryFunc func(id swarmpoll.Identity) (Target, error)

func (f TargetFactoryFunc) NewTarget(id swarmpoll.Identity) (Target, error) { return f(id) }

type RegistryConfig struct {
	Factory TargetFactory
	Handler BatchHandler
	// Membership lists the identities StartAll and StopAll act on.
	Membership interface {
		Membership(kind swarmpoll.Kind) ([]swarmpoll.Identity, error)
	}
	Clock   clock.Clock
	Logger  Logger
	Metrics *metrics.Metrics
}

func (c RegistryConfig) Validate() error {
	if c.Factory == nil {
		return errors.NotValidf("nil Factory")
	}
	if c.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if c.Membership == nil {
		return errors.NotValidf("nil Membership")
	}
	return nil
}

// Registry owns one Scheduler per polled identity. All methods are safe for
// concurrent use and, like the schedulers they drive, never fail: problems
// are logged.
type Registry struct {
	cfg RegistryConfig

	mu         sync.Mutex
	schedulers map[string]*Scheduler
	// stopped keeps the exit channel of removed schedulers until a new one
	// for the same identity takes over.
	stopped map[string]<-chan struct{}
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Registry{
		cfg:        cfg,
		schedulers: make(map[string]*Scheduler),
		stopped:    make(map[string]<-chan struct{}),
	}, nil
}

// StartPolling starts polling id. Starting an identity that is already
// being polled does nothing.
func (r *Registry) StartPolling(id swarmpoll.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := id.Key()
	if s, ok := r.schedulers[key]; ok {
		s.Start()
		return
	}

	target, err := r.cfg.Factory.NewTarget(id)
	if err != nil {
		r.cfg.Logger.Errorf("cannot poll %s: %v", id, err)
		return
	}
	s, err := NewScheduler(SchedulerConfig{
		Target:  target,
		Handler: r.cfg.Handler,
		Clock:   r.cfg.Clock,
		Logger:  r.cfg.Logger,
		Metrics: r.cfg.Metrics,
		After:   r.stopped[key],
	})
	if err != nil {
		r.cfg.Logger.Errorf("cannot poll %s: %v", id, err)
		return
	}
	delete(r.stopped, key)
	r.schedulers[key] = s
	r.cfg.Logger.Debugf("started polling %s", id)
	s.Start()
}

// StopPolling stops polling id and forgets its scheduler.
func (r *Registry) StopPolling(id swarmpoll.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(id.Key())
}

func (r *Registry) stopLocked(key string) {
	s, ok := r.schedulers[key]
	if !ok {
		return
	}
	s.Stop()
	delete(r.schedulers, key)
	r.pruneStopped()
	if done := s.Done(); done != nil {
		r.stopped[key] = done
	}
	r.cfg.Logger.Debugf("stopped polling %s", s.Identity())
}

// pruneStopped forgets runs that have already exited; a restart of those
// identities has nothing to wait for.
func (r *Registry) pruneStopped() {
	for key, done := range r.stopped {
		select {
		case <-done:
			delete(r.stopped, key)
		default:
		}
	}
}

// StartAll starts polling every known identity of kind.
func (r *Registry) StartAll(kind swarmpoll.Kind) {
	ids, err := r.cfg.Membership.Membership(kind)
	if err != nil {
		r.cfg.Logger.Errorf("listing %s mailboxes: %v", kind, err)
		return
	}
	for _, id := range ids {
		if id.Kind != kind {
			r.cfg.Logger.Warningf("skipping %s listed as %s", id, kind)
			continue
		}
		r.StartPolling(id)
	}
}

// StopAll stops every running scheduler of kind, whether or not it is
// still listed in the membership.
func (r *Registry) StopAll(kind swarmpoll.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.schedulers {
		if s.Identity().Kind == kind {
			r.stopLocked(key)
		}
	}
}

// Shutdown stops every scheduler and waits for all of them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for key := range r.schedulers {
		r.stopLocked(key)
	}
	waits := make([]<-chan struct{}, 0, len(r.stopped))
	for _, done := range r.stopped {
		waits = append(waits, done)
	}
	r.stopped = make(map[string]<-chan struct{})
	r.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}

// Active lists the identities currently being polled, sorted by key.
func (r *Registry) Active() []swarmpoll.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]swarmpoll.Identity, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		out = append(out, s.Identity())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Scheduler returns the scheduler polling id, if any.
func (r *Registry) Scheduler(id swarmpoll.Identity) (*Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedulers[id.Key()]
	return s, ok
}
