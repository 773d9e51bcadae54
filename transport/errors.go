package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
)

const errUnexpectedStatus = errors.ConstError("unexpected status")

// brokenConn reports whether err means the connection to a node is unusable
// and pooled connections to it should be dropped. Timeouts are not.
func brokenConn(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return !nerr.Timeout()
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

// statusError maps a non-200 storage node reply onto the error taxonomy.
// body is the (bounded) response payload.
func statusError(node swarmpoll.StorageNode, status int, body []byte) error {
	switch status {
	case http.StatusMisdirectedRequest:
		nodes, err := decodeSnodes(body)
		if err != nil {
			logger.Debugf("421 from %s without a usable swarm: %v", node, err)
		}
		return &swarmpoll.SwarmMismatchError{Node: node, Swarm: nodes}
	case http.StatusNotAcceptable:
		return &swarmpoll.NodeError{Node: node, Status: status, Cause: swarmpoll.ErrClockOutOfSync}
	default:
		return &swarmpoll.NodeError{
			Node:   node,
			Status: status,
			Cause:  errors.Annotatef(errUnexpectedStatus, "%s", snippet(body)),
		}
	}
}

func snippet(body []byte) string {
	const max = 120
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
