package poller

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

// maxSwarmMoves caps how many swarm-mismatch answers one attempt follows.
const maxSwarmMoves = 3

// SwarmTargetConfig configures a target for a mailbox stored on a swarm.
type SwarmTargetConfig struct {
	Identity  swarmpoll.Identity
	Swarms    SwarmSource
	Picker    NodePicker
	Transport swarmpoll.Transport
	Store     swarmpoll.Store
	Clock     clock.Clock
	Logger    Logger
	Metrics   *metrics.Metrics

	Namespace     int
	Authenticated bool
	MaxPollCount  int

	// Interval maps the time since the last message to the next delay.
	Interval IntervalPolicy
	// NoActivityAge stands in for the time since the last message when the
	// mailbox has never received one.
	NoActivityAge time.Duration
}

// Validate reports missing collaborators or a non swarm-backed identity.
func (c SwarmTargetConfig) Validate() error {
	if !c.Identity.SwarmBacked() {
		return errors.NotValidf("identity %s for swarm target", c.Identity)
	}
	if c.Swarms == nil {
		return errors.NotValidf("nil Swarms")
	}
	if c.Picker == nil {
		return errors.NotValidf("nil Picker")
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Interval == nil {
		return errors.NotValidf("nil Interval")
	}
	if c.MaxPollCount <= 0 {
		return errors.NotValidf("non-positive MaxPollCount")
	}
	return nil
}

// SwarmTarget polls one mailbox across the nodes of its swarm. A round is
// the span in which every node is tried at most once; it ends when no
// eligible node is left.
//
// SwarmTarget is owned by a single scheduler and is not safe for concurrent
// Retrieve calls.
type SwarmTarget struct {
	cfg SwarmTargetConfig

	gen         uint64
	used        swarmpoll.Swarm
	current     swarmpoll.StorageNode
	hasCurrent  bool
	consecutive int

	roundOver     bool
	roundFailures int
}

// NewSwarmTarget validates cfg and returns a target with no round started.
func NewSwarmTarget(cfg SwarmTargetConfig) (*SwarmTarget, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &SwarmTarget{cfg: cfg, used: swarmpoll.NewSwarm()}, nil
}

func (t *SwarmTarget) Identity() swarmpoll.Identity { return t.cfg.Identity }

// Current returns the node the next attempt will start with, if any.
func (t *SwarmTarget) Current() (swarmpoll.StorageNode, bool) {
	return t.current, t.hasCurrent
}

func (t *SwarmTarget) Interval(now time.Time) time.Duration {
	last, err := t.cfg.Store.LastActivity(t.cfg.Identity)
	if err != nil {
		t.cfg.Logger.Warningf("reading last activity of %s: %v", t.cfg.Identity, err)
	}
	since := t.cfg.NoActivityAge
	if !last.IsZero() {
		since = now.Sub(last)
	}
	return t.cfg.Interval.For(since)
}

func (t *SwarmTarget) startRound() {
	if t.roundFailures > 0 {
		// exhausted by failing nodes: the membership itself is suspect
		t.cfg.Logger.Debugf("round for %s ended after %d node failures, refetching swarm", t.cfg.Identity, t.roundFailures)
		t.cfg.Swarms.Invalidate(t.cfg.Identity.PublicKey)
	}
	t.used = swarmpoll.NewSwarm()
	t.hasCurrent = false
	t.consecutive = 0
	t.roundOver = false
	t.roundFailures = 0
}

func (t *SwarmTarget) endRound() error {
	t.roundOver = true
	t.hasCurrent = false
	return errors.Annotatef(swarmpoll.ErrInsufficientSwarm, "no eligible node for %s", t.cfg.Identity)
}

// Retrieve picks a node and asks it for new messages, moving on to the next
// eligible node of the round whenever one fails.
func (t *SwarmTarget) Retrieve(ctx context.Context) (swarmpoll.Batch, error) {
	if t.roundOver {
		t.startRound()
	}
	pk := t.cfg.Identity.PublicKey
	moves := 0

	if canceled(ctx) {
		return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
	}
	s, err := t.lookup(ctx, pk)
	if err != nil {
		return swarmpoll.Batch{}, err
	}

	for {
		if canceled(ctx) {
			return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
		}
		node, ok := t.pick(s)
		if !ok {
			return swarmpoll.Batch{}, t.endRound()
		}

		wm, err := t.cfg.Store.Watermark(t.cfg.Identity.Key())
		if err != nil {
			t.cfg.Logger.Warningf("reading watermark of %s: %v", t.cfg.Identity, err)
		}
		if canceled(ctx) {
			return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
		}
		resp, err := t.cfg.Transport.Retrieve(ctx, node, swarmpoll.RetrieveRequest{
			PublicKey:     pk,
			Namespace:     t.cfg.Namespace,
			LastHash:      wm,
			Authenticated: t.cfg.Authenticated,
		})
		if canceled(ctx) {
			return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
		}
		if err == nil {
			t.cfg.Swarms.ReportSuccess(node)
			t.consecutive++
			return swarmpoll.Batch{
				Envelopes: resp.Envelopes,
				Watermark: resp.Watermark,
				Node:      node,
				Namespace: t.cfg.Namespace,
			}, nil
		}

		t.hasCurrent = false
		t.consecutive = 0

		var mismatch *swarmpoll.SwarmMismatchError
		switch {
		case errors.Is(err, swarmpoll.ErrClockOutOfSync):
			t.cfg.Logger.Warningf("node %s rejected request time for %s", node, t.cfg.Identity)
			return swarmpoll.Batch{}, errors.Trace(err)
		case errors.As(err, &mismatch):
			moves++
			if moves > maxSwarmMoves {
				t.roundFailures++
				return swarmpoll.Batch{}, t.endRound()
			}
			if len(mismatch.Swarm) > 0 {
				t.cfg.Logger.Debugf("%s moved swarm, %d new nodes", t.cfg.Identity, len(mismatch.Swarm))
				t.cfg.Swarms.Replace(pk, mismatch.Swarm)
			} else {
				t.cfg.Swarms.Drop(pk, node)
			}
			if s, err = t.lookup(ctx, pk); err != nil {
				return swarmpoll.Batch{}, err
			}
		case swarmpoll.IsNodeFailure(err):
			t.roundFailures++
			t.cfg.Logger.Debugf("retrieving %s from %s: %v", t.cfg.Identity, node, err)
			if t.cfg.Swarms.ReportFailure(pk, node) {
				// evicted; the refetch that follows belongs to the next attempt
				s.Remove(node)
			}
		default:
			return swarmpoll.Batch{}, errors.Trace(err)
		}
	}
}

// lookup returns the swarm for this attempt. When the membership changed
// since the last lookup the round keeps only the nodes it already tried that
// are still members, so an attempt never asks a node twice.
func (t *SwarmTarget) lookup(ctx context.Context, pk string) (swarmpoll.Swarm, error) {
	s, gen, err := t.cfg.Swarms.Lookup(ctx, pk)
	if canceled(ctx) {
		return nil, swarmpoll.ErrPollingCanceled
	}
	if err != nil {
		t.roundOver = true
		return nil, errors.Trace(err)
	}
	if gen != t.gen {
		t.gen = gen
		kept := swarmpoll.NewSwarm()
		for _, n := range swarmpoll.SortedNodes(t.used) {
			if s.Contains(n) {
				kept.Add(n)
			}
		}
		t.used = kept
	}
	return s, nil
}

// pick keeps polling the current node until MaxPollCount consecutive
// successes, then rotates to another member of the round.
func (t *SwarmTarget) pick(s swarmpoll.Swarm) (swarmpoll.StorageNode, bool) {
	var rotated *swarmpoll.StorageNode
	if t.hasCurrent && t.consecutive >= t.cfg.MaxPollCount {
		t.cfg.Logger.Infof("poll limit reached for %s on %s, rotating", t.cfg.Identity, t.current)
		t.cfg.Metrics.Rotation(t.cfg.Identity.Kind.String())
		prev := t.current
		rotated = &prev
		t.hasCurrent = false
		t.consecutive = 0
	}
	if t.hasCurrent && s.Contains(t.current) {
		return t.current, true
	}

	node, ok := t.cfg.Picker.PickNext(s, t.used)
	if !ok && rotated != nil {
		// every member served this round; start the next one without the
		// node we just left
		t.used = swarmpoll.NewSwarm(*rotated)
		node, ok = t.cfg.Picker.PickNext(s, t.used)
		if !ok {
			t.used = swarmpoll.NewSwarm()
			node, ok = t.cfg.Picker.PickNext(s, t.used)
		}
	}
	if !ok {
		return swarmpoll.StorageNode{}, false
	}
	t.used.Add(node)
	t.current = node
	t.hasCurrent = true
	t.consecutive = 0
	return node, true
}
