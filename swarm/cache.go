// Package swarm keeps the per-mailbox view of which storage nodes hold a
// mailbox and chooses which of them to poll next.
package swarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/swarmpoll"
)

// Cache is safe for concurrent use by every scheduler in the process.
// Lookups go memory, then the persisted copy, then the network; concurrent
// network fetches for one public key are collapsed into one.
type Cache struct {
	cfg    Config
	shards []*shard
	mask   uint64

	flight   singleflight.Group
	failures *failureTracker

	obsMu     sync.Mutex
	observers map[int]swarmpoll.RebuildObserver
	nextObs   int
}

type fetchResult struct {
	nodes swarmpoll.Swarm
	gen   uint64
}

func New(cfg Config) (*Cache, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	shards, mask := newShards(cfg.ShardCount)
	return &Cache{
		cfg:       cfg,
		shards:    shards,
		mask:      mask,
		failures:  newFailureTracker(cfg.FailureThreshold, cfg.FailureWindow),
		observers: make(map[int]swarmpoll.RebuildObserver),
	}, nil
}

func (c *Cache) shardFor(publicKey string) *shard {
	return c.shards[shardIndex(publicKey, c.mask)]
}

// Swarm returns the swarm for publicKey, fetching it if needed.
func (c *Cache) Swarm(ctx context.Context, publicKey string) (swarmpoll.Swarm, error) {
	s, _, err := c.Lookup(ctx, publicKey)
	return s, err
}

// Lookup is Swarm plus the generation of the returned membership. The
// generation changes whenever the swarm is refetched, replaced or
// invalidated, so a caller can tell when its round bookkeeping is stale.
//
// A fetch failure is reported as ErrInsufficientSwarm wrapping the cause and
// leaves the cache as it was.
func (c *Cache) Lookup(ctx context.Context, publicKey string) (swarmpoll.Swarm, uint64, error) {
	sh := c.shardFor(publicKey)
	if s, gen, ok := sh.get(publicKey, c.cfg.MinSwarmSize); ok {
		return s, gen, nil
	}

	v, err, _ := c.flight.Do(publicKey, func() (interface{}, error) {
		return c.load(ctx, sh, publicKey)
	})
	if err != nil {
		return nil, 0, err
	}
	res := v.(fetchResult)
	return res.nodes.Clone(), res.gen, nil
}

func (c *Cache) load(ctx context.Context, sh *shard, publicKey string) (fetchResult, error) {
	gen := sh.generation(publicKey)

	persisted, err := c.cfg.Store.Swarm(publicKey)
	if err != nil {
		c.cfg.Logger.Warningf("reading persisted swarm for %s: %v", publicKey, err)
	} else if s := swarmpoll.NewSwarm(persisted...); s.Cardinality() >= c.cfg.MinSwarmSize {
		if ngen, ok := sh.storeIfGen(publicKey, s, gen); ok {
			return fetchResult{nodes: s, gen: ngen}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return fetchResult{}, err
	}
	return c.fetch(ctx, sh, publicKey, gen)
}

func (c *Cache) fetch(ctx context.Context, sh *shard, publicKey string, gen uint64) (fetchResult, error) {
	c.notifyStarted(publicKey)
	nodes, err := c.cfg.Transport.FetchSwarm(ctx, publicKey)
	s := swarmpoll.NewSwarm(nodes...)
	if err == nil && s.Cardinality() == 0 {
		err = errors.New("empty swarm returned")
	}
	c.notifyFinished(publicKey, err)
	c.cfg.Metrics.SwarmFetch(err == nil)

	if err != nil {
		if ctx.Err() != nil {
			return fetchResult{}, ctx.Err()
		}
		return fetchResult{}, fmt.Errorf("%w: fetching swarm for %s: %w", swarmpoll.ErrInsufficientSwarm, publicKey, err)
	}

	ngen, ok := sh.storeIfGen(publicKey, s, gen)
	if !ok {
		// invalidated while in flight; serve the answer but do not cache it
		c.cfg.Logger.Debugf("swarm for %s changed during fetch, result not cached", publicKey)
		return fetchResult{nodes: s, gen: ngen}, nil
	}
	if err := c.cfg.Store.SetSwarm(publicKey, swarmpoll.SortedNodes(s)); err != nil {
		c.cfg.Logger.Warningf("persisting swarm for %s: %v", publicKey, err)
	}
	c.cfg.Logger.Debugf("fetched swarm for %s: %d nodes", publicKey, s.Cardinality())
	return fetchResult{nodes: s, gen: ngen}, nil
}

// Generation returns the current generation for publicKey without fetching.
func (c *Cache) Generation(publicKey string) uint64 {
	return c.shardFor(publicKey).generation(publicKey)
}

// Invalidate clears the in-memory and persisted swarm so the next lookup
// goes to the network.
func (c *Cache) Invalidate(publicKey string) {
	c.shardFor(publicKey).invalidate(publicKey)
	if err := c.cfg.Store.DeleteSwarm(publicKey); err != nil {
		c.cfg.Logger.Warningf("deleting persisted swarm for %s: %v", publicKey, err)
	}
}

// ReportFailure records a transport failure against node. Once the node has
// failed FailureThreshold times in a row it is evicted from the swarm and
// true is returned.
func (c *Cache) ReportFailure(publicKey string, node swarmpoll.StorageNode) bool {
	c.cfg.Metrics.NodeFailure()
	streak, evict := c.failures.record(node, c.cfg.Clock.Now())
	if !evict {
		c.cfg.Logger.Debugf("node %s failed (%d/%d)", node, streak, c.cfg.FailureThreshold)
		return false
	}
	c.cfg.Logger.Infof("evicting node %s from swarm of %s after %d failures", node, publicKey, streak)
	c.cfg.Metrics.NodeEviction()
	return c.drop(publicKey, node)
}

// ReportSuccess clears the failure streak of node.
func (c *Cache) ReportSuccess(node swarmpoll.StorageNode) {
	c.failures.clear(node)
}

// Replace installs nodes as the swarm of publicKey. It is used when a node
// answers that the mailbox moved and names the new members.
func (c *Cache) Replace(publicKey string, nodes []swarmpoll.StorageNode) {
	s := swarmpoll.NewSwarm(nodes...)
	if s.Cardinality() == 0 {
		c.Invalidate(publicKey)
		return
	}
	c.shardFor(publicKey).replace(publicKey, s)
	if err := c.cfg.Store.SetSwarm(publicKey, swarmpoll.SortedNodes(s)); err != nil {
		c.cfg.Logger.Warningf("persisting swarm for %s: %v", publicKey, err)
	}
}

// Drop removes node from the swarm of publicKey immediately.
func (c *Cache) Drop(publicKey string, node swarmpoll.StorageNode) bool {
	c.failures.clear(node)
	return c.drop(publicKey, node)
}

func (c *Cache) drop(publicKey string, node swarmpoll.StorageNode) bool {
	rest, ok := c.shardFor(publicKey).remove(publicKey, node)
	if !ok {
		return false
	}
	var err error
	if len(rest) == 0 {
		err = c.cfg.Store.DeleteSwarm(publicKey)
	} else {
		err = c.cfg.Store.SetSwarm(publicKey, rest)
	}
	if err != nil {
		c.cfg.Logger.Warningf("persisting swarm for %s: %v", publicKey, err)
	}
	return true
}

// Len returns the number of cached swarms.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		n += sh.size()
	}
	return n
}

// Subscribe registers obs for rebuild events. The returned func removes it.
func (c *Cache) Subscribe(obs swarmpoll.RebuildObserver) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = obs
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			delete(c.observers, id)
			c.obsMu.Unlock()
		})
	}
}

func (c *Cache) snapshotObservers() []swarmpoll.RebuildObserver {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	out := make([]swarmpoll.RebuildObserver, 0, len(c.observers))
	for _, o := range c.observers {
		out = append(out, o)
	}
	return out
}

func (c *Cache) notifyStarted(publicKey string) {
	for _, o := range c.snapshotObservers() {
		o.SwarmRebuildStarted(publicKey)
	}
}

func (c *Cache) notifyFinished(publicKey string, err error) {
	for _, o := range c.snapshotObservers() {
		o.SwarmRebuildFinished(publicKey, err)
	}
}
