package swarm

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

var logger = loggo.GetLogger("swarmpoll.swarm")

// Logger represents the methods used by the cache to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

type Config struct {
	Transport swarmpoll.Transport
	Store     swarmpoll.Store
	Clock     clock.Clock
	Logger    Logger
	Metrics   *metrics.Metrics

	// MinSwarmSize is the smallest cached swarm still served without a
	// network refetch.
	MinSwarmSize int
	// FailureThreshold is how many failures in a row evict a node.
	FailureThreshold int
	// FailureWindow resets a node's failure streak when its previous
	// failure is older than this.
	FailureWindow time.Duration
	ShardCount    int
}

func Default() Config {
	return Config{
		Clock:            clock.WallClock,
		MinSwarmSize:     3,
		FailureThreshold: 3,
		FailureWindow:    10 * time.Minute,
		ShardCount:       16,
	}
}

// FillDefaults replaces zero values with Default() ones.
func (c *Config) FillDefaults() {
	d := Default()
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	if c.Logger == nil {
		c.Logger = logger
	}
	if c.MinSwarmSize <= 0 {
		c.MinSwarmSize = d.MinSwarmSize
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.ShardCount <= 0 {
		c.ShardCount = d.ShardCount
	}
}

// Validate returns an error if config cannot drive a Cache.
func (c Config) Validate() error {
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	return nil
}
