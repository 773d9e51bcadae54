package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/loggo/v2"
)

// ValidationError holds every problem found in a configuration so they can
// be fixed in one pass.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// Validate returns a *ValidationError listing every problem, or nil.
func (c Config) Validate() error {
	var errs []string

	if c.DataDir == "" {
		errs = append(errs, "data_dir: must not be empty")
	} else {
		errs = append(errs, validateDataDir(c.DataDir)...)
	}

	if c.LogLevel != "" {
		if _, err := loggo.ParseConfigString(c.LogLevel); err != nil {
			errs = append(errs, fmt.Sprintf("log_level: %v", err))
		}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Sprintf("metrics_addr: %v", err))
		}
	}

	if c.Identity.PublicKey == "" && len(c.ClosedGroups) == 0 && len(c.OpenGroups) == 0 {
		errs = append(errs, "nothing to poll: set identity.public_key, closed_groups or open_groups")
	}
	if (c.Identity.PublicKey != "" || len(c.ClosedGroups) > 0) && len(c.Seeds) == 0 {
		errs = append(errs, "seeds: at least one seed node is required to look up swarms")
	}
	for i, s := range c.Seeds {
		if _, err := parseSeed(s); err != nil {
			errs = append(errs, fmt.Sprintf("seeds[%d]: %v", i, err))
		}
	}
	for i, pk := range c.ClosedGroups {
		if pk == "" {
			errs = append(errs, fmt.Sprintf("closed_groups[%d]: empty public key", i))
		}
	}
	for i, r := range c.OpenGroups {
		u, err := url.Parse(r.Server)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("open_groups[%d].server: %q is not an http(s) URL", i, r.Server))
		}
		if r.Room == "" {
			errs = append(errs, fmt.Sprintf("open_groups[%d].room: must not be empty", i))
		}
	}

	if c.Network.RequestTimeout <= 0 {
		errs = append(errs, "network.request_timeout: must be positive")
	}
	if c.Network.RequestsPerSecond < 0 {
		errs = append(errs, "network.requests_per_second: must not be negative")
	}

	p := c.Polling
	for _, d := range []struct {
		name string
		v    interface{ Seconds() float64 }
	}{
		{"own_interval", p.OwnInterval},
		{"closed_group_min", p.ClosedGroupMin},
		{"closed_group_max", p.ClosedGroupMax},
		{"closed_group_ceiling", p.ClosedGroupCeiling},
		{"open_group_interval", p.OpenGroupInterval},
	} {
		if d.v.Seconds() <= 0 {
			errs = append(errs, fmt.Sprintf("polling.%s: must be positive", d.name))
		}
	}
	if p.ClosedGroupMax < p.ClosedGroupMin {
		errs = append(errs, "polling.closed_group_max: must not be below closed_group_min")
	}
	if p.MaxPollCount < 1 {
		errs = append(errs, "polling.max_poll_count: must be at least 1")
	}
	if p.RecentHashes < 1 {
		errs = append(errs, "polling.recent_hashes: must be at least 1")
	}
	if c.Swarm.MinSize < 1 {
		errs = append(errs, "swarm.min_size: must be at least 1")
	}
	if c.Swarm.FailureThreshold < 1 {
		errs = append(errs, "swarm.failure_threshold: must be at least 1")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateDataDir(dir string) []string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return []string{fmt.Sprintf("data_dir: cannot resolve path %q: %v", dir, err)}
	}
	info, err := os.Stat(abs)
	if err == nil {
		if !info.IsDir() {
			return []string{fmt.Sprintf("data_dir: %q exists but is not a directory", abs)}
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return []string{fmt.Sprintf("data_dir: cannot access %q: %v", abs, err)}
	}
	parent := filepath.Dir(abs)
	if _, err := os.Stat(parent); err != nil {
		return []string{fmt.Sprintf("data_dir: %q does not exist and parent %q is not accessible: %v", abs, parent, err)}
	}
	return nil
}
