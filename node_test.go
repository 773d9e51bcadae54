package swarmpoll

import (
	"testing"
)

var testNodes = []StorageNode{
	{Host: "10.0.0.1", Port: 22021, ED25519Key: "a", X25519Key: "b"},
	{Host: "10.0.0.1", Port: 22022, ED25519Key: "a", X25519Key: "b"},
	{Host: "10.0.0.2", Port: 22021, ED25519Key: "a", X25519Key: "b"},
	{Host: "10.0.0.1", Port: 22021, ED25519Key: "c", X25519Key: "b"},
}

func TestNodeIDConsistency(t *testing.T) {
	seen := make(map[NodeID]StorageNode)
	for _, n := range testNodes {
		id := n.ID()
		if id != n.ID() {
			t.Fatalf("ID of %s not stable", n)
		}
		if len(id) != 16 {
			t.Fatalf("ID %q is not 16 hex digits", id)
		}
		if prev, ok := seen[id]; ok {
			t.Fatalf("%v and %v share ID %s", prev, n, id)
		}
		seen[id] = n
	}
}

func TestNodeAddress(t *testing.T) {
	n := StorageNode{Host: "2001:db8::1", Port: 443}
	if got := n.Address(); got != "https://[2001:db8::1]:443" {
		t.Fatalf("address = %q", got)
	}
	if (StorageNode{Host: "0.0.0.0", Port: 1}).Valid() || (StorageNode{Host: "a"}).Valid() {
		t.Fatalf("unroutable node reported valid")
	}
}

func TestNewSwarmSkipsInvalid(t *testing.T) {
	s := NewSwarm(append(testNodes, StorageNode{Host: "0.0.0.0", Port: 1}, testNodes[0])...)
	if s.Cardinality() != len(testNodes) {
		t.Fatalf("swarm size %d", s.Cardinality())
	}
	sorted := SortedNodes(s)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].ID() >= sorted[i].ID() {
			t.Fatalf("SortedNodes not ordered by ID")
		}
	}
	if SortedNodes(nil) != nil {
		t.Fatalf("nil swarm produced nodes")
	}
}
