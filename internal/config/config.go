// Package config loads the swarmpoll process configuration from YAML.
package config

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/poller"
	"github.com/unkn0wn-root/swarmpoll/swarm"
	"github.com/unkn0wn-root/swarmpoll/transport"
)

type Config struct {
	DataDir     string `yaml:"data_dir"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	Identity Identity `yaml:"identity"`
	// Seeds are host:port addresses of storage nodes used to look up swarms.
	Seeds   []string `yaml:"seeds"`
	Network Network  `yaml:"network"`
	Swarm   Swarm    `yaml:"swarm"`
	Polling Polling  `yaml:"polling"`

	ClosedGroups []string `yaml:"closed_groups"`
	OpenGroups   []Room   `yaml:"open_groups"`
}

type Identity struct {
	PublicKey string `yaml:"public_key"`
	// KeyFile holds the hex ed25519 seed used to sign own-mailbox
	// requests.
	KeyFile string `yaml:"ed25519_key_file"`
}

type Network struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	ClockOffset        time.Duration `yaml:"clock_offset"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

type Swarm struct {
	MinSize          int           `yaml:"min_size"`
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
}

type Polling struct {
	OwnInterval            time.Duration `yaml:"own_interval"`
	ClosedGroupMin         time.Duration `yaml:"closed_group_min"`
	ClosedGroupMax         time.Duration `yaml:"closed_group_max"`
	ClosedGroupCeiling     time.Duration `yaml:"closed_group_ceiling"`
	NewGroupActivityOffset time.Duration `yaml:"new_group_activity_offset"`
	OpenGroupInterval      time.Duration `yaml:"open_group_interval"`
	MaxInactivity          time.Duration `yaml:"max_inactivity"`
	MaxPollCount           int           `yaml:"max_poll_count"`
	RecentHashes           int           `yaml:"recent_hashes"`
}

type Room struct {
	Server string `yaml:"server"`
	Room   string `yaml:"room"`
}

// Default mirrors the library defaults so a config file only needs the
// values it changes.
func Default() Config {
	p := poller.Default()
	s := swarm.Default()
	t := transport.Default()
	return Config{
		DataDir:     "swarmpoll-data",
		LogLevel:    "<root>=INFO",
		MetricsAddr: ":9464",
		Network: Network{
			RequestTimeout:     t.RequestTimeout,
			InsecureSkipVerify: true,
		},
		Swarm: Swarm{
			MinSize:          s.MinSwarmSize,
			FailureThreshold: s.FailureThreshold,
			FailureWindow:    s.FailureWindow,
		},
		Polling: Polling{
			OwnInterval:            p.OwnInterval,
			ClosedGroupMin:         p.ClosedGroupMin,
			ClosedGroupMax:         p.ClosedGroupMax,
			ClosedGroupCeiling:     p.ClosedGroupCeiling,
			NewGroupActivityOffset: p.NewGroupActivityOffset,
			OpenGroupInterval:      p.OpenGroupInterval,
			MaxInactivity:          p.MaxInactivity,
			MaxPollCount:           p.MaxPollCount,
			RecentHashes:           p.RecentHashes,
		},
	}
}

// Load reads path over Default and validates the result. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading config")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Annotatef(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PollerConfig returns the scheduling policy.
func (c Config) PollerConfig() poller.Config {
	p := c.Polling
	return poller.Config{
		OwnInterval:            p.OwnInterval,
		ClosedGroupMin:         p.ClosedGroupMin,
		ClosedGroupMax:         p.ClosedGroupMax,
		ClosedGroupCeiling:     p.ClosedGroupCeiling,
		NewGroupActivityOffset: p.NewGroupActivityOffset,
		OpenGroupInterval:      p.OpenGroupInterval,
		MaxInactivity:          p.MaxInactivity,
		MaxPollCount:           p.MaxPollCount,
		RecentHashes:           p.RecentHashes,
	}
}

// SwarmConfig returns the cache tuning; collaborators are left for the
// caller to fill.
func (c Config) SwarmConfig() swarm.Config {
	return swarm.Config{
		MinSwarmSize:     c.Swarm.MinSize,
		FailureThreshold: c.Swarm.FailureThreshold,
		FailureWindow:    c.Swarm.FailureWindow,
	}
}

// TransportConfig resolves seeds and the signing key.
func (c Config) TransportConfig() (transport.Config, error) {
	seeds, err := c.SeedNodes()
	if err != nil {
		return transport.Config{}, errors.Trace(err)
	}
	key, err := c.SigningKey()
	if err != nil {
		return transport.Config{}, errors.Trace(err)
	}
	return transport.Config{
		Seeds:             seeds,
		Key:               key,
		ClockOffset:       c.Network.ClockOffset,
		RequestTimeout:    c.Network.RequestTimeout,
		RequestsPerSecond: c.Network.RequestsPerSecond,
		TLS: transport.TLS{
			CAFile:             c.Network.CAFile,
			InsecureSkipVerify: c.Network.InsecureSkipVerify,
		},
	}, nil
}

func (c Config) SeedNodes() ([]swarmpoll.StorageNode, error) {
	out := make([]swarmpoll.StorageNode, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		n, err := parseSeed(s)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseSeed(s string) (swarmpoll.StorageNode, error) {
	host, port, err := net.SplitHostPort(strings.TrimPrefix(s, "https://"))
	if err != nil {
		return swarmpoll.StorageNode{}, errors.NotValidf("seed %q", s)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 || host == "" {
		return swarmpoll.StorageNode{}, errors.NotValidf("seed %q", s)
	}
	return swarmpoll.StorageNode{Host: host, Port: uint16(p)}, nil
}

// SigningKey reads the identity key file. It returns nil when none is
// configured.
func (c Config) SigningKey() (ed25519.PrivateKey, error) {
	if c.Identity.KeyFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.Identity.KeyFile)
	if err != nil {
		return nil, errors.Annotatef(err, "reading identity key")
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, errors.NotValidf("identity key in %s", c.Identity.KeyFile)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Identities lists the mailboxes to poll at startup.
func (c Config) Identities() []swarmpoll.Identity {
	var out []swarmpoll.Identity
	if c.Identity.PublicKey != "" {
		out = append(out, swarmpoll.OwnMailboxIdentity(c.Identity.PublicKey))
	}
	for _, pk := range c.ClosedGroups {
		out = append(out, swarmpoll.ClosedGroupIdentity(pk))
	}
	for _, r := range c.OpenGroups {
		out = append(out, swarmpoll.OpenGroupIdentity(r.Server, r.Room))
	}
	return out
}
