package main

import (
	"sync/atomic"

	"github.com/unkn0wn-root/swarmpoll"
)

// logQueue stands in for the message pipeline: it logs every envelope it
// receives.
type logQueue struct {
	received atomic.Int64
}

func (q *logQueue) Enqueue(env swarmpoll.Envelope, meta swarmpoll.SourceMeta) {
	n := q.received.Add(1)
	logger.Infof("message %s for %s (%d bytes, node %s, #%d)", env.Hash, meta.Identity, len(env.Data), meta.Node, n)
}

// rebuildLog reports swarm refetches.
type rebuildLog struct{}

func (rebuildLog) SwarmRebuildStarted(publicKey string) {
	logger.Debugf("fetching swarm of %s", publicKey)
}

func (rebuildLog) SwarmRebuildFinished(publicKey string, err error) {
	if err != nil {
		logger.Warningf("swarm of %s: %v", publicKey, err)
		return
	}
	logger.Debugf("swarm of %s refreshed", publicKey)
}
