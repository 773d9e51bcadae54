// Package store provides the persistence the poller reads and writes:
// swarms, watermarks, group membership, activity timestamps and the open
// group server-id mapping.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/swarmpoll"
)

// Memory is a process-local Store and MessageStore. Nothing survives a
// restart; use Level for that.
type Memory struct {
	mu         sync.RWMutex
	swarms     map[string][]swarmpoll.StorageNode
	marks      map[string]string
	members    map[swarmpoll.Kind][]swarmpoll.Identity
	activity   map[string]time.Time
	serverRefs map[string]map[int64]string
}

var (
	_ swarmpoll.Store        = (*Memory)(nil)
	_ swarmpoll.MessageStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		swarms:     make(map[string][]swarmpoll.StorageNode),
		marks:      make(map[string]string),
		members:    make(map[swarmpoll.Kind][]swarmpoll.Identity),
		activity:   make(map[string]time.Time),
		serverRefs: make(map[string]map[int64]string),
	}
}

func (m *Memory) Swarm(publicKey string) ([]swarmpoll.StorageNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]swarmpoll.StorageNode(nil), m.swarms[publicKey]...), nil
}

func (m *Memory) SetSwarm(publicKey string, nodes []swarmpoll.StorageNode) error {
	m.mu.Lock()
	m.swarms[publicKey] = append([]swarmpoll.StorageNode(nil), nodes...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteSwarm(publicKey string) error {
	m.mu.Lock()
	delete(m.swarms, publicKey)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Watermark(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marks[key], nil
}

func (m *Memory) SetWatermark(key, value string) error {
	m.mu.Lock()
	m.marks[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Membership(kind swarmpoll.Kind) ([]swarmpoll.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]swarmpoll.Identity(nil), m.members[kind]...), nil
}

func (m *Memory) SetMembership(kind swarmpoll.Kind, ids []swarmpoll.Identity) error {
	m.mu.Lock()
	m.members[kind] = append([]swarmpoll.Identity(nil), ids...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) LastActivity(id swarmpoll.Identity) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activity[id.Key()], nil
}

func (m *Memory) SetLastActivity(id swarmpoll.Identity, at time.Time) error {
	m.mu.Lock()
	m.activity[id.Key()] = at
	m.mu.Unlock()
	return nil
}

func (m *Memory) MapServerID(id swarmpoll.Identity, serverID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs, ok := m.serverRefs[id.Key()]
	if !ok {
		refs = make(map[int64]string)
		m.serverRefs[id.Key()] = refs
	}
	refs[serverID] = hash
	return nil
}

func (m *Memory) RemoveByServerID(id swarmpoll.Identity, serverIDs []int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := m.serverRefs[id.Key()]
	n := 0
	for _, sid := range serverIDs {
		if _, ok := refs[sid]; ok {
			delete(refs, sid)
			n++
		}
	}
	return n, nil
}

// ServerIDs lists the mapped server message IDs of id in ascending order.
func (m *Memory) ServerIDs(id swarmpoll.Identity) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.serverRefs[id.Key()]))
	for sid := range m.serverRefs[id.Key()] {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
