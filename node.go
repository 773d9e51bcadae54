package swarmpoll

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"
)

// NodeID is a stable 16-hex digest of a storage node's identity.
type NodeID string

// StorageNode is one replica of the storage network. It is a plain value:
// two nodes are the same replica iff all fields are equal.
type StorageNode struct {
	Host       string `cbor:"h" json:"ip"`
	Port       uint16 `cbor:"p" json:"port"`
	ED25519Key string `cbor:"ed" json:"pubkey_ed25519"`
	X25519Key  string `cbor:"x" json:"pubkey_x25519"`
}

// ID digests host, port and keys with xxhash.
func (n StorageNode) ID() NodeID {
	d := xxhash.New()
	_, _ = d.WriteString(n.Host)
	_, _ = d.WriteString(":")
	_, _ = d.WriteString(strconv.Itoa(int(n.Port)))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(n.ED25519Key)
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(n.X25519Key)
	return NodeID(fmt.Sprintf("%016x", d.Sum64()))
}

// Address returns the HTTPS base URL of the node.
func (n StorageNode) Address() string {
	return "https://" + net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

func (n StorageNode) String() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(int(n.Port)))
}

// Valid reports whether the node carries enough information to be contacted.
func (n StorageNode) Valid() bool {
	return n.Host != "" && n.Host != "0.0.0.0" && n.Port != 0
}

// Swarm is the set of replicas believed to hold one mailbox.
type Swarm = mapset.Set[StorageNode]

// NewSwarm builds a thread-safe swarm set, skipping invalid nodes.
func NewSwarm(nodes ...StorageNode) Swarm {
	s := mapset.NewSet[StorageNode]()
	for _, n := range nodes {
		if n.Valid() {
			s.Add(n)
		}
	}
	return s
}

// SortedNodes returns the members of s ordered by ID so persisted copies
// and log lines are deterministic.
func SortedNodes(s Swarm) []StorageNode {
	if s == nil {
		return nil
	}
	out := s.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
