package swarmpoll

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrInsufficientSwarm means no eligible storage node remains for the
	// current round, or the swarm could not be fetched at all.
	ErrInsufficientSwarm = errors.ConstError("insufficient swarm")

	// ErrPollingCanceled is returned when a scheduler was stopped while an
	// attempt was in progress. It is never surfaced to callers of Start/Stop.
	ErrPollingCanceled = errors.ConstError("polling canceled")

	// ErrClockOutOfSync is reported by a storage node that rejected the
	// request timestamp (HTTP 406).
	ErrClockOutOfSync = errors.ConstError("clock out of sync with service node network")

	ErrInvalidEnvelope = errors.ConstError("invalid envelope")
	ErrNoTransport     = errors.ConstError("no transport configured")
	ErrUnknownKind     = errors.ConstError("unknown mailbox kind")
)

// PollError ties a failure to the operation and mailbox it happened on.
type PollError struct {
	Op       string
	Identity Identity
	Cause    error
}

func (e *PollError) Error() string {
	if e.Identity.Kind != 0 {
		return fmt.Sprintf("poll %s %s: %v", e.Op, e.Identity, e.Cause)
	}
	return fmt.Sprintf("poll %s: %v", e.Op, e.Cause)
}

func (e *PollError) Unwrap() error {
	return e.Cause
}

// NewPollError wraps cause with op and identity context.
func NewPollError(op string, id Identity, cause error) *PollError {
	return &PollError{
		Op:       op,
		Identity: id,
		Cause:    cause,
	}
}

// NodeError is a transport failure talking to one specific storage node.
// Status is the HTTP status when the node answered, 0 for network failures.
type NodeError struct {
	Node   StorageNode
	Status int
	Cause  error
}

func (e *NodeError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("node %s: status %d: %v", e.Node, e.Status, e.Cause)
	}
	return fmt.Sprintf("node %s: %v", e.Node, e.Cause)
}

func (e *NodeError) Unwrap() error {
	return e.Cause
}

// SwarmMismatchError is returned when a node reports it no longer belongs to
// the swarm of the requested public key (HTTP 421). Swarm carries the
// replacement membership when the node supplied one.
type SwarmMismatchError struct {
	Node  StorageNode
	Swarm []StorageNode
}

func (e *SwarmMismatchError) Error() string {
	return fmt.Sprintf("node %s is not part of the swarm (%d replacement nodes)", e.Node, len(e.Swarm))
}

// IsNodeFailure reports whether err should count against the node it came
// from. Swarm mismatches, clock skew and cancellation are not node failures.
func IsNodeFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClockOutOfSync) || errors.Is(err, ErrPollingCanceled) {
		return false
	}

	var mismatch *SwarmMismatchError
	if errors.As(err, &mismatch) {
		return false
	}

	var nerr *NodeError
	return errors.As(err, &nerr)
}
