package swarm

import (
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/swarmpoll"
)

// entry is one cached swarm.
type entry struct {
	nodes swarmpoll.Swarm
}

// shard is a partition of the swarm map to reduce lock contention between
// schedulers polling different mailboxes.
type shard struct {
	mu   sync.RWMutex
	data map[string]*entry
	// gens outlive deleted entries so a fetch that raced an invalidation
	// can tell its result is stale.
	gens map[string]uint64
}

func newShards(n int) ([]*shard, uint64) {
	n = nextPowerOf2(n)
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{
			data: make(map[string]*entry),
			gens: make(map[string]uint64),
		}
	}
	return out, uint64(n - 1)
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func shardIndex(publicKey string, mask uint64) uint64 {
	return xxhash.Sum64String(publicKey) & mask
}

// get returns a copy of the cached swarm when it has at least minSize members.
func (s *shard) get(publicKey string, minSize int) (swarmpoll.Swarm, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[publicKey]
	if !ok || e.nodes.Cardinality() < minSize {
		return nil, s.gens[publicKey], false
	}
	return e.nodes.Clone(), s.gens[publicKey], true
}

func (s *shard) generation(publicKey string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[publicKey]
}

// storeIfGen installs nodes only if no invalidation or replacement happened
// since gen was read. It returns the new generation.
func (s *shard) storeIfGen(publicKey string, nodes swarmpoll.Swarm, gen uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[publicKey] != gen {
		return s.gens[publicKey], false
	}
	// an identical refetch does not start a new round
	if e, ok := s.data[publicKey]; ok && e.nodes.Equal(nodes) {
		return gen, true
	}
	s.gens[publicKey]++
	s.data[publicKey] = &entry{nodes: nodes.Clone()}
	return s.gens[publicKey], true
}

// replace installs nodes unconditionally and bumps the generation.
func (s *shard) replace(publicKey string, nodes swarmpoll.Swarm) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[publicKey]++
	s.data[publicKey] = &entry{nodes: nodes.Clone()}
	return s.gens[publicKey]
}

// remove drops one node without changing the generation; eviction shrinks a
// round, it does not start a new one. The remaining members are returned.
func (s *shard) remove(publicKey string, node swarmpoll.StorageNode) ([]swarmpoll.StorageNode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[publicKey]
	if !ok || !e.nodes.Contains(node) {
		return nil, false
	}
	e.nodes.Remove(node)
	rest := swarmpoll.SortedNodes(e.nodes)
	if len(rest) == 0 {
		delete(s.data, publicKey)
	}
	return rest, true
}

func (s *shard) invalidate(publicKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, publicKey)
	s.gens[publicKey]++
}

func (s *shard) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
