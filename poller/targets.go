package poller

import (
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

// Targets builds the standard target for each mailbox family.
type Targets struct {
	Config Config

	Swarms    SwarmSource
	Picker    NodePicker
	Transport swarmpoll.Transport
	Rooms     swarmpoll.RoomTransport
	Store     swarmpoll.Store
	Clock     clock.Clock
	Logger    Logger
	Metrics   *metrics.Metrics
}

var _ TargetFactory = (*Targets)(nil)

func (f *Targets) NewTarget(id swarmpoll.Identity) (Target, error) {
	cfg := f.Config
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	var (
		t   Target
		err error
	)
	switch id.Kind {
	case swarmpoll.OwnMailbox:
		t, err = NewSwarmTarget(f.swarmConfig(id, cfg, swarmpoll.DefaultNamespace, true, Fixed(cfg.OwnInterval)))
	case swarmpoll.ClosedGroup:
		t, err = NewSwarmTarget(f.swarmConfig(id, cfg, swarmpoll.ClosedGroupNamespace, false, Adaptive{
			Min:     cfg.ClosedGroupMin,
			Max:     cfg.ClosedGroupMax,
			Ceiling: cfg.ClosedGroupCeiling,
		}))
	case swarmpoll.OpenGroup:
		if f.Rooms == nil {
			return nil, errors.Annotatef(swarmpoll.ErrNoTransport, "room %s", id)
		}
		t, err = NewRoomTarget(RoomTargetConfig{
			Identity:      id,
			Transport:     f.Rooms,
			Store:         f.Store,
			Clock:         f.Clock,
			Logger:        f.Logger,
			Interval:      cfg.OpenGroupInterval,
			MaxInactivity: cfg.MaxInactivity,
		})
	default:
		return nil, errors.Annotatef(swarmpoll.ErrUnknownKind, "%d", id.Kind)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

func (f *Targets) swarmConfig(id swarmpoll.Identity, cfg Config, ns int, auth bool, interval IntervalPolicy) SwarmTargetConfig {
	return SwarmTargetConfig{
		Identity:      id,
		Swarms:        f.Swarms,
		Picker:        f.Picker,
		Transport:     f.Transport,
		Store:         f.Store,
		Clock:         f.Clock,
		Logger:        f.Logger,
		Metrics:       f.Metrics,
		Namespace:     ns,
		Authenticated: auth,
		MaxPollCount:  cfg.MaxPollCount,
		Interval:      interval,
		NoActivityAge: cfg.NewGroupActivityOffset,
	}
}
