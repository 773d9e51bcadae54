package poller

import (
	"math"
	"time"
)

// IntervalPolicy maps the time since a mailbox last received a message to
// the delay before its next poll.
type IntervalPolicy interface {
	For(sinceLastMessage time.Duration) time.Duration
}

// Fixed is a constant interval.
type Fixed time.Duration

func (f Fixed) For(time.Duration) time.Duration { return time.Duration(f) }

// Adaptive grows linearly from Min to Max as the time since the last
// message grows from zero to Ceiling, and stays at Max beyond it.
type Adaptive struct {
	Min, Max, Ceiling time.Duration
}

func (a Adaptive) For(sinceLastMessage time.Duration) time.Duration {
	if sinceLastMessage <= 0 {
		return a.Min
	}
	if sinceLastMessage >= a.Ceiling || a.Ceiling <= 0 {
		return a.Max
	}
	slope := float64(a.Max-a.Min) / float64(a.Ceiling)
	d := a.Min + time.Duration(math.Round(slope*float64(sinceLastMessage)))
	if d > a.Max {
		return a.Max
	}
	return d
}
