package poller

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
)

// HandleResult counts what happened to one batch.
type HandleResult struct {
	Dispatched int
	Duplicates int
	Malformed  int
	Deleted    int
}

// HandlerConfig holds the collaborators of a Handler.
type HandlerConfig struct {
	Queue swarmpoll.JobQueue
	Store swarmpoll.Store
	// Messages is optional; without it open group deletions are ignored.
	Messages swarmpoll.MessageStore
	Clock    clock.Clock
	Logger   Logger
	Metrics  *metrics.Metrics

	// RecentHashes bounds how many dispatched envelopes are remembered.
	RecentHashes int
}

func (c HandlerConfig) Validate() error {
	if c.Queue == nil {
		return errors.NotValidf("nil Queue")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	return nil
}

// Handler parses batches, drops envelopes it has already dispatched and
// hands the rest to the job queue in the order received. The watermark is
// only advanced after the whole batch was enqueued, so a crash in between
// re-delivers rather than loses messages.
//
// One Handler is shared by all schedulers.
type Handler struct {
	cfg    HandlerConfig
	recent *lru.Cache
}

// NewHandler fills defaults and validates cfg.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.RecentHashes <= 0 {
		cfg.RecentHashes = Default().RecentHashes
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	recent, err := lru.New(cfg.RecentHashes)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Handler{cfg: cfg, recent: recent}, nil
}

func recentKey(id swarmpoll.Identity, hash string) string {
	return id.Key() + "|" + hash
}

// Handle dispatches b for id. Once ctx is done the rest of the batch is left
// undispatched, the watermark is kept and swarmpoll.ErrPollingCanceled is
// returned. Otherwise the error only reports a failure to persist the
// watermark; envelopes are dispatched regardless.
func (h *Handler) Handle(ctx context.Context, id swarmpoll.Identity, b swarmpoll.Batch) (HandleResult, error) {
	var res HandleResult
	kind := id.Kind.String()
	now := h.cfg.Clock.Now()
	meta := swarmpoll.SourceMeta{
		Identity:  id,
		Node:      b.Node,
		Namespace: b.Namespace,
		Received:  now,
	}

	var newest int64
	stopped := false
	for _, raw := range b.Envelopes {
		if canceled(ctx) {
			stopped = true
			break
		}
		env, err := raw.Parse()
		if err != nil {
			h.cfg.Logger.Warningf("skipping envelope for %s: %v", id, err)
			res.Malformed++
			continue
		}
		key := recentKey(id, env.Hash)
		if h.recent.Contains(key) {
			res.Duplicates++
			continue
		}

		h.cfg.Queue.Enqueue(env, meta)
		h.recent.Add(key, struct{}{})
		res.Dispatched++
		if raw.Timestamp > newest {
			newest = raw.Timestamp
		}

		if env.ServerID > 0 && h.cfg.Messages != nil {
			if err := h.cfg.Messages.MapServerID(id, env.ServerID, env.Hash); err != nil {
				h.cfg.Logger.Warningf("mapping server message %d of %s: %v", env.ServerID, id, err)
			}
		}
	}

	if len(b.Deletions) > 0 && h.cfg.Messages != nil && !stopped {
		n, err := h.cfg.Messages.RemoveByServerID(id, b.Deletions)
		if err != nil {
			h.cfg.Logger.Warningf("removing %d deleted messages of %s: %v", len(b.Deletions), id, err)
		}
		res.Deleted = n
	}

	h.cfg.Metrics.Envelopes(kind, metrics.OutcomeDispatched, res.Dispatched)
	h.cfg.Metrics.Envelopes(kind, metrics.OutcomeDuplicate, res.Duplicates)
	h.cfg.Metrics.Envelopes(kind, metrics.OutcomeMalformed, res.Malformed)
	h.cfg.Metrics.Envelopes(kind, metrics.OutcomeDeleted, res.Deleted)

	if res.Dispatched > 0 && id.SwarmBacked() {
		at := now
		if newest > 0 && newest < now.UnixMilli() {
			at = time.UnixMilli(newest)
		}
		if err := h.cfg.Store.SetLastActivity(id, at); err != nil {
			h.cfg.Logger.Warningf("recording activity of %s: %v", id, err)
		}
	}

	if stopped {
		h.cfg.Logger.Debugf("dispatch for %s stopped after %d of %d envelopes", id, res.Dispatched+res.Duplicates+res.Malformed, len(b.Envelopes))
		return res, swarmpoll.ErrPollingCanceled
	}
	if b.Watermark == "" {
		return res, nil
	}
	prev, err := h.cfg.Store.Watermark(id.Key())
	if err == nil && prev == b.Watermark {
		return res, nil
	}
	if err := h.cfg.Store.SetWatermark(id.Key(), b.Watermark); err != nil {
		return res, errors.Annotatef(err, "persisting watermark of %s", id)
	}
	return res, nil
}
