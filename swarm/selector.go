package swarm

import (
	"crypto/rand"
	"io"
	"math/big"

	"github.com/unkn0wn-root/swarmpoll"
)

// DefaultMaxPollCount is how many consecutive successful polls one node
// serves before the poller is made to rotate away from it.
const DefaultMaxPollCount = 6

// Selector picks the next node to poll. Choices are uniformly random over
// the eligible nodes using a cryptographic source, so a set of colluding
// nodes cannot predict or profile which replica a client polls next.
type Selector struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// NewSelector returns a selector backed by crypto/rand.
func NewSelector() *Selector {
	return &Selector{Rand: rand.Reader}
}

// PickNext returns a random member of s not present in used. It returns
// false when every member has been used this round.
func (sel *Selector) PickNext(s swarmpoll.Swarm, used swarmpoll.Swarm) (swarmpoll.StorageNode, bool) {
	if s == nil {
		return swarmpoll.StorageNode{}, false
	}
	eligible := s
	if used != nil {
		eligible = s.Difference(used)
	}
	nodes := swarmpoll.SortedNodes(eligible)
	if len(nodes) == 0 {
		return swarmpoll.StorageNode{}, false
	}
	if len(nodes) == 1 {
		return nodes[0], true
	}

	r := sel.Rand
	if r == nil {
		r = rand.Reader
	}
	i, err := rand.Int(r, big.NewInt(int64(len(nodes))))
	if err != nil {
		// a broken entropy source must not stall polling
		logger.Errorf("random node selection: %v", err)
		return nodes[0], true
	}
	return nodes[i.Int64()], true
}
