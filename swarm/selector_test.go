package swarm

import (
	"bytes"
	"testing"

	"github.com/unkn0wn-root/swarmpoll"
)

func TestPickNextExcludesUsed(t *testing.T) {
	nodes := testNodes(3)
	s := swarmpoll.NewSwarm(nodes...)
	used := swarmpoll.NewSwarm(nodes[0], nodes[2])
	sel := NewSelector()

	for i := 0; i < 50; i++ {
		n, ok := sel.PickNext(s, used)
		if !ok {
			t.Fatalf("expected a node")
		}
		if n != nodes[1] {
			t.Fatalf("picked used node %s", n)
		}
	}
}

func TestPickNextExhausted(t *testing.T) {
	nodes := testNodes(2)
	sel := NewSelector()
	if _, ok := sel.PickNext(swarmpoll.NewSwarm(nodes...), swarmpoll.NewSwarm(nodes...)); ok {
		t.Fatalf("expected no eligible node")
	}
	if _, ok := sel.PickNext(swarmpoll.NewSwarm(), nil); ok {
		t.Fatalf("expected no node from empty swarm")
	}
	if _, ok := sel.PickNext(nil, nil); ok {
		t.Fatalf("expected no node from nil swarm")
	}
}

func TestPickNextCoversEligibleSet(t *testing.T) {
	nodes := testNodes(5)
	s := swarmpoll.NewSwarm(nodes...)
	sel := NewSelector()

	seen := make(map[swarmpoll.StorageNode]bool)
	for i := 0; i < 500 && len(seen) < len(nodes); i++ {
		n, _ := sel.PickNext(s, nil)
		seen[n] = true
	}
	if len(seen) != len(nodes) {
		t.Fatalf("random selection only reached %d of %d nodes", len(seen), len(nodes))
	}
}

func TestPickNextUsesInjectedSource(t *testing.T) {
	nodes := testNodes(4)
	s := swarmpoll.NewSwarm(nodes...)
	sorted := swarmpoll.SortedNodes(s)

	// an all-zero source always draws index 0
	sel := &Selector{Rand: bytes.NewReader(make([]byte, 64))}
	n, ok := sel.PickNext(s, nil)
	if !ok || n != sorted[0] {
		t.Fatalf("picked %s, want %s", n, sorted[0])
	}
}
