package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/unkn0wn-root/swarmpoll"
)

const rpcPath = "/storage_rpc/v1"

const (
	ErrNoSeeds      = errors.ConstError("no seed nodes configured")
	ErrNoSigningKey = errors.ConstError("authenticated retrieve without an ed25519 key")
	errEmptySwarm   = errors.ConstError("no usable nodes in reply")
)

// Client speaks the storage node JSON-RPC protocol.
type Client struct {
	base
}

var _ swarmpoll.Transport = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	b, err := newBase(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Client{base: b}, nil
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type swarmParams struct {
	PubKey string `json:"pubKey"`
}

type retrieveParams struct {
	PubKey    string `json:"pubKey"`
	LastHash  string `json:"lastHash"`
	Namespace *int   `json:"namespace,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	ED25519   string `json:"pubkey_ed25519,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type retrieveReply struct {
	Messages []swarmpoll.RawEnvelope `json:"messages"`
	More     bool                    `json:"more"`
}

// wireNode is a swarm member as nodes report it. Some nodes send the port
// as a string.
type wireNode struct {
	IP      string   `json:"ip"`
	Port    flexPort `json:"port"`
	ED25519 string   `json:"pubkey_ed25519"`
	X25519  string   `json:"pubkey_x25519"`
}

type flexPort uint16

func (p *flexPort) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return errors.NotValidf("port %s", s)
	}
	*p = flexPort(v)
	return nil
}

type snodesReply struct {
	Snodes []wireNode `json:"snodes"`
}

// decodeSnodes parses a {"snodes": [...]} payload, dropping members that
// cannot be contacted.
func decodeSnodes(body []byte) ([]swarmpoll.StorageNode, error) {
	var r snodesReply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, errors.Annotate(err, "decoding snodes")
	}
	out := make([]swarmpoll.StorageNode, 0, len(r.Snodes))
	for _, w := range r.Snodes {
		n := swarmpoll.StorageNode{
			Host:       w.IP,
			Port:       uint16(w.Port),
			ED25519Key: w.ED25519,
			X25519Key:  w.X25519,
		}
		if n.Valid() {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errEmptySwarm
	}
	return out, nil
}

// FetchSwarm asks the seed nodes, in random order, for the swarm of
// publicKey.
func (c *Client) FetchSwarm(ctx context.Context, publicKey string) ([]swarmpoll.StorageNode, error) {
	seeds := c.cfg.Seeds
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}
	order := rand.Perm(len(seeds))

	var (
		nodes   []swarmpoll.StorageNode
		lastErr error
		attempt int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			seed := seeds[order[attempt%len(order)]]
			attempt++
			var err error
			nodes, err = c.getSwarm(ctx, seed, publicKey)
			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, i int) {
			c.cfg.Logger.Debugf("swarm fetch attempt %d for %s: %v", i, publicKey, err)
			lastErr = err
		},
		Attempts: c.cfg.FetchAttempts,
		Delay:    c.cfg.RetryDelay,
		Clock:    c.cfg.Clock,
		Stop:     ctx.Done(),
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if retry.IsAttemptsExceeded(err) && lastErr != nil {
		return nil, errors.Annotatef(lastErr, "after %d attempts", attempt)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return nodes, nil
}

func (c *Client) getSwarm(ctx context.Context, seed swarmpoll.StorageNode, publicKey string) ([]swarmpoll.StorageNode, error) {
	body, err := c.call(ctx, seed, "get_snodes_for_pubkey", swarmParams{PubKey: publicKey})
	if err != nil {
		return nil, err
	}
	nodes, err := decodeSnodes(body)
	if err != nil {
		return nil, &swarmpoll.NodeError{Node: seed, Status: http.StatusOK, Cause: err}
	}
	return nodes, nil
}

// Retrieve fetches messages newer than req.LastHash from node.
func (c *Client) Retrieve(ctx context.Context, node swarmpoll.StorageNode, req swarmpoll.RetrieveRequest) (swarmpoll.RetrieveResponse, error) {
	params := retrieveParams{PubKey: req.PublicKey, LastHash: req.LastHash}
	if req.Namespace != swarmpoll.DefaultNamespace || req.Authenticated {
		ns := req.Namespace
		params.Namespace = &ns
	}
	if req.Authenticated {
		if err := c.sign(&params, req.Namespace); err != nil {
			return swarmpoll.RetrieveResponse{}, err
		}
	}

	body, err := c.call(ctx, node, "retrieve", params)
	if err != nil {
		return swarmpoll.RetrieveResponse{}, err
	}
	var reply retrieveReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return swarmpoll.RetrieveResponse{}, &swarmpoll.NodeError{
			Node:   node,
			Status: http.StatusOK,
			Cause:  errors.Annotate(err, "decoding retrieve reply"),
		}
	}

	resp := swarmpoll.RetrieveResponse{Envelopes: reply.Messages}
	if n := len(reply.Messages); n > 0 {
		resp.Watermark = reply.Messages[n-1].Hash
	}
	return resp, nil
}

// sign stamps params with the signature over "retrieve" + namespace +
// timestamp. The default namespace contributes an empty string.
func (c *Client) sign(params *retrieveParams, namespace int) error {
	if c.cfg.Key == nil {
		return ErrNoSigningKey
	}
	ts := c.cfg.Clock.Now().Add(c.cfg.ClockOffset).UnixMilli()
	ns := ""
	if namespace != swarmpoll.DefaultNamespace {
		ns = strconv.Itoa(namespace)
	}
	msg := "retrieve" + ns + strconv.FormatInt(ts, 10)

	params.Timestamp = ts
	params.ED25519 = hex.EncodeToString(c.cfg.Key.Public().(ed25519.PublicKey))
	params.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(c.cfg.Key, []byte(msg)))
	return nil
}

// call posts one JSON-RPC request and returns the 200 body. Every failure
// other than cancellation is attributed to node.
func (c *Client) call(ctx context.Context, node swarmpoll.StorageNode, method string, params any) ([]byte, error) {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return nil, errors.Annotatef(err, "encoding %s", method)
	}
	req, err := http.NewRequest(http.MethodPost, node.Address()+rpcPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Annotatef(err, "building %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &swarmpoll.NodeError{Node: node, Cause: err}
	}
	if status != http.StatusOK {
		return nil, statusError(node, status, body)
	}
	return body, nil
}
