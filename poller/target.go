package poller

import (
	"context"
	"time"

	"github.com/unkn0wn-root/swarmpoll"
)

// Target is the per-family policy a Scheduler drives: how to retrieve one
// batch and how long to wait before the next attempt.
type Target interface {
	Identity() swarmpoll.Identity

	// Retrieve runs one retrieval attempt. It returns
	// swarmpoll.ErrPollingCanceled once ctx is done, whatever the RPC
	// reported.
	Retrieve(ctx context.Context) (swarmpoll.Batch, error)

	// Interval returns the delay before the attempt after the one that just
	// completed.
	Interval(now time.Time) time.Duration
}

// BatchHandler consumes a retrieved batch. *Handler is the implementation.
type BatchHandler interface {
	Handle(ctx context.Context, id swarmpoll.Identity, b swarmpoll.Batch) (HandleResult, error)
}

// SwarmSource is the part of *swarm.Cache the poller needs.
type SwarmSource interface {
	Lookup(ctx context.Context, publicKey string) (swarmpoll.Swarm, uint64, error)
	Invalidate(publicKey string)
	ReportFailure(publicKey string, node swarmpoll.StorageNode) bool
	ReportSuccess(node swarmpoll.StorageNode)
	Replace(publicKey string, nodes []swarmpoll.StorageNode)
	Drop(publicKey string, node swarmpoll.StorageNode) bool
}

// NodePicker chooses the next node of a round. *swarm.Selector is the
// implementation.
type NodePicker interface {
	PickNext(s swarmpoll.Swarm, used swarmpoll.Swarm) (swarmpoll.StorageNode, bool)
}

func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
