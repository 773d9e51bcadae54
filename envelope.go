package swarmpoll

import (
	"encoding/base64"
	"time"

	"github.com/juju/errors"
)

// RawEnvelope is one retrieved message exactly as the network returned it.
// Swarm nodes fill Hash/Data/Timestamp/Expiration; open group servers fill
// ServerID/SeqNo/Sender and may flag Deleted.
type RawEnvelope struct {
	Hash       string `json:"hash"`
	Data       string `json:"data"`
	Timestamp  int64  `json:"timestamp"`
	Expiration int64  `json:"expiration"`
	ServerID   int64  `json:"id,omitempty"`
	SeqNo      int64  `json:"seqno,omitempty"`
	Sender     string `json:"session_id,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// Envelope is a parsed message blob ready for the processing pipeline.
// Ownership passes to the job queue on Enqueue.
type Envelope struct {
	Hash      string
	Data      []byte
	Timestamp time.Time
	ServerID  int64
	Sender    string
}

// SourceMeta tells the pipeline where an envelope came from.
type SourceMeta struct {
	Identity  Identity
	Node      StorageNode
	Namespace int
	Received  time.Time
}

// Batch is the outcome of one successful retrieval attempt.
type Batch struct {
	Envelopes []RawEnvelope
	// Watermark is the new last-seen marker (message hash for swarms,
	// sequence number for rooms). Empty means unchanged.
	Watermark string
	// Deletions lists server message IDs removed on an open group server.
	Deletions []int64
	Node      StorageNode
	Namespace int
}

// Parse validates r and decodes its payload.
func (r RawEnvelope) Parse() (Envelope, error) {
	if r.Hash == "" {
		return Envelope{}, errors.Annotate(ErrInvalidEnvelope, "missing hash")
	}
	if r.Data == "" {
		return Envelope{}, errors.Annotatef(ErrInvalidEnvelope, "%s: empty payload", r.Hash)
	}

	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		// some nodes send unpadded payloads
		data, err = base64.RawStdEncoding.DecodeString(r.Data)
	}
	if err != nil {
		return Envelope{}, errors.Annotatef(ErrInvalidEnvelope, "%s: %v", r.Hash, err)
	}

	var ts time.Time
	if r.Timestamp > 0 {
		ts = time.UnixMilli(r.Timestamp)
	}
	return Envelope{
		Hash:      r.Hash,
		Data:      data,
		Timestamp: ts,
		ServerID:  r.ServerID,
		Sender:    r.Sender,
	}, nil
}
