package poller

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
)

// RoomTargetConfig configures a target for one open group room.
type RoomTargetConfig struct {
	Identity  swarmpoll.Identity
	Transport swarmpoll.RoomTransport
	Store     swarmpoll.Store
	Clock     clock.Clock
	Logger    Logger

	Interval      time.Duration
	MaxInactivity time.Duration
}

func (c RoomTargetConfig) Validate() error {
	if c.Identity.Kind != swarmpoll.OpenGroup || c.Identity.Server == "" || c.Identity.Room == "" {
		return errors.NotValidf("identity %s for room target", c.Identity)
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

// RoomTarget polls an open group room by sequence number. The room's
// activity timestamp records the last successful poll.
type RoomTarget struct {
	cfg RoomTargetConfig
}

func NewRoomTarget(cfg RoomTargetConfig) (*RoomTarget, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &RoomTarget{cfg: cfg}, nil
}

func (t *RoomTarget) Identity() swarmpoll.Identity { return t.cfg.Identity }

func (t *RoomTarget) Interval(time.Time) time.Duration { return t.cfg.Interval }

// since returns the sequence number to poll from, or 0 after a long
// inactivity so only the server's recent window is fetched.
func (t *RoomTarget) since() int64 {
	id := t.cfg.Identity
	wm, err := t.cfg.Store.Watermark(id.Key())
	if err != nil {
		t.cfg.Logger.Warningf("reading watermark of %s: %v", id, err)
		return 0
	}
	if wm == "" {
		return 0
	}
	seq, err := strconv.ParseInt(wm, 10, 64)
	if err != nil {
		t.cfg.Logger.Warningf("ignoring malformed watermark %q of %s", wm, id)
		return 0
	}
	if t.cfg.MaxInactivity > 0 {
		last, err := t.cfg.Store.LastActivity(id)
		if err == nil && !last.IsZero() && t.cfg.Clock.Now().Sub(last) > t.cfg.MaxInactivity {
			t.cfg.Logger.Infof("%s inactive since %s, fetching recent messages only", id, last.Format(time.RFC3339))
			return 0
		}
	}
	return seq
}

func (t *RoomTarget) Retrieve(ctx context.Context) (swarmpoll.Batch, error) {
	if canceled(ctx) {
		return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
	}
	id := t.cfg.Identity
	since := t.since()

	resp, err := t.cfg.Transport.PollRoom(ctx, id.Server, id.Room, since)
	if canceled(ctx) {
		return swarmpoll.Batch{}, swarmpoll.ErrPollingCanceled
	}
	if err != nil {
		return swarmpoll.Batch{}, errors.Annotatef(err, "polling %s", id)
	}
	if err := t.cfg.Store.SetLastActivity(id, t.cfg.Clock.Now()); err != nil {
		t.cfg.Logger.Warningf("recording poll time of %s: %v", id, err)
	}

	batch := splitRoomResponse(resp)
	if resp.SeqNo > since {
		batch.Watermark = strconv.FormatInt(resp.SeqNo, 10)
	}
	return batch, nil
}

// splitRoomResponse separates tombstones from messages and orders messages
// by sequence number, which is the order the server accepted them in.
func splitRoomResponse(resp swarmpoll.RoomResponse) swarmpoll.Batch {
	var b swarmpoll.Batch
	b.Deletions = append(b.Deletions, resp.Deletions...)
	for _, raw := range resp.Envelopes {
		if raw.Deleted || raw.Data == "" {
			if raw.ServerID > 0 {
				b.Deletions = append(b.Deletions, raw.ServerID)
			}
			continue
		}
		b.Envelopes = append(b.Envelopes, raw)
	}
	sort.SliceStable(b.Envelopes, func(i, j int) bool {
		ei, ej := b.Envelopes[i], b.Envelopes[j]
		if ei.SeqNo != ej.SeqNo {
			return ei.SeqNo < ej.SeqNo
		}
		return ei.ServerID < ej.ServerID
	})
	return b
}
