// Package transport talks to the storage network over HTTPS JSON-RPC and to
// open group servers over their REST API.
package transport

import (
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/unkn0wn-root/swarmpoll"
)

var logger = loggo.GetLogger("swarmpoll.transport")

// Logger represents the methods used by the clients to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// TLS configures how storage nodes are verified. Storage nodes present
// self-signed certificates, so deployments either pin a CA bundle or skip
// verification.
type TLS struct {
	CAFile             string
	InsecureSkipVerify bool
	MinVersion         uint16
}

type Config struct {
	// Seeds answer get_snodes_for_pubkey when no swarm is known yet.
	Seeds []swarmpoll.StorageNode

	// HTTPClient overrides the client built from TLS and RequestTimeout.
	HTTPClient *http.Client
	Clock      clock.Clock
	Logger     Logger

	// Key signs authenticated retrieve requests. Without it only
	// unauthenticated namespaces can be read.
	Key ed25519.PrivateKey
	// ClockOffset is added to the local clock when stamping signed
	// requests.
	ClockOffset time.Duration

	RequestTimeout   time.Duration
	MaxResponseBytes int64

	// FetchAttempts bounds how many seeds are asked for one swarm.
	FetchAttempts int
	RetryDelay    time.Duration

	// RequestsPerSecond caps outgoing RPCs across all nodes. Zero disables
	// the limit.
	RequestsPerSecond float64
	Burst             int

	TLS TLS
}

func Default() Config {
	return Config{
		Clock:            clock.WallClock,
		RequestTimeout:   10 * time.Second,
		MaxResponseBytes: 8 << 20,
		FetchAttempts:    4,
		RetryDelay:       250 * time.Millisecond,
		Burst:            16,
		TLS:              TLS{MinVersion: 0x0303}, // TLS 1.2
	}
}

func (c *Config) FillDefaults() {
	d := Default()
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = logger
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = d.MaxResponseBytes
	}
	if c.FetchAttempts <= 0 {
		c.FetchAttempts = d.FetchAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.TLS.MinVersion == 0 {
		c.TLS.MinVersion = d.TLS.MinVersion
	}
}

func (c Config) Validate() error {
	for _, s := range c.Seeds {
		if !s.Valid() {
			return errors.NotValidf("seed node %q", s.String())
		}
	}
	if c.Key != nil && len(c.Key) != ed25519.PrivateKeySize {
		return errors.NotValidf("ed25519 key of %d bytes", len(c.Key))
	}
	if c.RequestsPerSecond < 0 {
		return errors.NotValidf("negative RequestsPerSecond")
	}
	return nil
}
