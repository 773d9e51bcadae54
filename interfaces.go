package swarmpoll

import (
	"context"
	"time"
)

// RetrieveRequest asks one storage node for messages newer than LastHash.
type RetrieveRequest struct {
	PublicKey     string
	Namespace     int
	LastHash      string
	Authenticated bool
}

// RetrieveResponse is the node's answer. Watermark is the hash of the last
// returned message, empty when nothing new arrived.
type RetrieveResponse struct {
	Envelopes []RawEnvelope
	Watermark string
}

// Transport carries RPCs to storage nodes. Implementations enforce their own
// timeouts; callers do their own retries.
type Transport interface {
	FetchSwarm(ctx context.Context, publicKey string) ([]StorageNode, error)
	Retrieve(ctx context.Context, node StorageNode, req RetrieveRequest) (RetrieveResponse, error)
}

// RoomResponse is one open group poll result.
type RoomResponse struct {
	Envelopes []RawEnvelope
	Deletions []int64
	// SeqNo is the highest sequence number seen, 0 when unchanged.
	SeqNo int64
}

// RoomTransport polls open group rooms. sinceSeqNo <= 0 fetches the
// server's recent window.
type RoomTransport interface {
	PollRoom(ctx context.Context, server, room string, sinceSeqNo int64) (RoomResponse, error)
}

// Store is the key/value persistence the poller consumes. Missing values are
// reported as zero values with a nil error.
type Store interface {
	Swarm(publicKey string) ([]StorageNode, error)
	SetSwarm(publicKey string, nodes []StorageNode) error
	DeleteSwarm(publicKey string) error

	Watermark(key string) (string, error)
	SetWatermark(key, value string) error

	Membership(kind Kind) ([]Identity, error)
	SetMembership(kind Kind, ids []Identity) error

	LastActivity(id Identity) (time.Time, error)
	SetLastActivity(id Identity, at time.Time) error
}

// JobQueue receives parsed envelopes. Enqueue is fire-and-forget.
type JobQueue interface {
	Enqueue(env Envelope, meta SourceMeta)
}

// MessageStore maps open group server message IDs to locally stored
// messages so server-side deletions can be reconciled.
type MessageStore interface {
	MapServerID(id Identity, serverID int64, hash string) error
	RemoveByServerID(id Identity, serverIDs []int64) (int, error)
}

// RebuildObserver is told when a swarm is being fetched from the network.
// Observers are best-effort and must not block.
type RebuildObserver interface {
	SwarmRebuildStarted(publicKey string)
	SwarmRebuildFinished(publicKey string, err error)
}
