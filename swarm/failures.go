package swarm

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/swarmpoll"
)

type failureState struct {
	streak int
	last   time.Time
}

// failureTracker counts consecutive failures per node. A failure older than
// window starts a new streak, so a node that fails once a day is never
// evicted while one that fails back-to-back is.
type failureTracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	nodes     map[swarmpoll.StorageNode]*failureState
}

func newFailureTracker(threshold int, window time.Duration) *failureTracker {
	return &failureTracker{
		window:    window,
		threshold: threshold,
		nodes:     make(map[swarmpoll.StorageNode]*failureState),
	}
}

// record bumps the streak for node and reports whether the threshold was
// reached; the streak is reset when it is.
func (f *failureTracker) record(node swarmpoll.StorageNode, now time.Time) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.nodes[node]
	if !ok {
		st = &failureState{}
		f.nodes[node] = st
	}
	if !st.last.IsZero() && now.Sub(st.last) > f.window {
		st.streak = 0
	}
	st.streak++
	st.last = now

	if st.streak >= f.threshold {
		delete(f.nodes, node)
		return f.threshold, true
	}
	return st.streak, false
}

func (f *failureTracker) clear(node swarmpoll.StorageNode) {
	f.mu.Lock()
	delete(f.nodes, node)
	f.mu.Unlock()
}

func (f *failureTracker) streak(node swarmpoll.StorageNode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.nodes[node]; ok {
		return st.streak
	}
	return 0
}
