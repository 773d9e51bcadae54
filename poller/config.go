package poller

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("swarmpoll.poller")

// Logger represents the methods used by the poller to log information.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Config holds the scheduling policy shared by every target.
type Config struct {
	// OwnInterval is the fixed delay between polls of the local mailbox.
	OwnInterval time.Duration

	// Closed groups back off linearly from ClosedGroupMin to ClosedGroupMax
	// as the time since the last message approaches ClosedGroupCeiling.
	ClosedGroupMin     time.Duration
	ClosedGroupMax     time.Duration
	ClosedGroupCeiling time.Duration
	// NewGroupActivityOffset stands in for the age of the last message in
	// a group that has none yet.
	NewGroupActivityOffset time.Duration

	OpenGroupInterval time.Duration
	// MaxInactivity is how long a room may go unpolled before its stored
	// sequence number is ignored and only the recent window is fetched.
	MaxInactivity time.Duration

	// MaxPollCount is the number of consecutive successful polls one node
	// serves before the poller rotates away from it.
	MaxPollCount int

	// RecentHashes bounds the per-process memory of dispatched envelopes.
	RecentHashes int
}

func Default() Config {
	return Config{
		OwnInterval:            1500 * time.Millisecond,
		ClosedGroupMin:         2 * time.Second,
		ClosedGroupMax:         30 * time.Second,
		ClosedGroupCeiling:     12 * time.Hour,
		NewGroupActivityOffset: 5 * time.Minute,
		OpenGroupInterval:      4 * time.Second,
		MaxInactivity:          14 * 24 * time.Hour,
		MaxPollCount:           6,
		RecentHashes:           4096,
	}
}

// FillDefaults replaces zero values with Default() ones.
func (c *Config) FillDefaults() {
	d := Default()
	if c.OwnInterval <= 0 {
		c.OwnInterval = d.OwnInterval
	}
	if c.ClosedGroupMin <= 0 {
		c.ClosedGroupMin = d.ClosedGroupMin
	}
	if c.ClosedGroupMax <= 0 {
		c.ClosedGroupMax = d.ClosedGroupMax
	}
	if c.ClosedGroupCeiling <= 0 {
		c.ClosedGroupCeiling = d.ClosedGroupCeiling
	}
	if c.NewGroupActivityOffset <= 0 {
		c.NewGroupActivityOffset = d.NewGroupActivityOffset
	}
	if c.OpenGroupInterval <= 0 {
		c.OpenGroupInterval = d.OpenGroupInterval
	}
	if c.MaxInactivity <= 0 {
		c.MaxInactivity = d.MaxInactivity
	}
	if c.MaxPollCount <= 0 {
		c.MaxPollCount = d.MaxPollCount
	}
	if c.RecentHashes <= 0 {
		c.RecentHashes = d.RecentHashes
	}
}

// Validate returns an error if the policy is inconsistent.
func (c Config) Validate() error {
	if c.ClosedGroupMax < c.ClosedGroupMin {
		return errors.NotValidf("closed group interval range %v..%v", c.ClosedGroupMin, c.ClosedGroupMax)
	}
	if c.ClosedGroupCeiling <= 0 {
		return errors.NotValidf("non-positive closed group ceiling")
	}
	if c.MaxPollCount <= 0 {
		return errors.NotValidf("non-positive MaxPollCount")
	}
	return nil
}
