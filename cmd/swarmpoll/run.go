package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/config"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
	"github.com/unkn0wn-root/swarmpoll/poller"
	"github.com/unkn0wn-root/swarmpoll/store"
	"github.com/unkn0wn-root/swarmpoll/swarm"
	"github.com/unkn0wn-root/swarmpoll/transport"
)

func newRunCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every configured mailbox until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts.cfg)
		},
	}
}

// backend is the storage network side shared by run and swarm.
type backend struct {
	store  *store.Level
	nodes  *transport.Client
	swarms *swarm.Cache
}

func openBackend(cfg *config.Config, m *metrics.Metrics) (*backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, errors.Annotate(err, "creating data dir")
	}
	st, err := store.OpenLevel(cfg.DataDir)
	if err != nil {
		return nil, errors.Trace(err)
	}

	tcfg, err := cfg.TransportConfig()
	if err != nil {
		_ = st.Close()
		return nil, errors.Trace(err)
	}
	nodes, err := transport.NewClient(tcfg)
	if err != nil {
		_ = st.Close()
		return nil, errors.Trace(err)
	}

	scfg := cfg.SwarmConfig()
	scfg.Transport = nodes
	scfg.Store = st
	scfg.Metrics = m
	swarms, err := swarm.New(scfg)
	if err != nil {
		_ = st.Close()
		return nil, errors.Trace(err)
	}
	return &backend{store: st, nodes: nodes, swarms: swarms}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(metrics.DefaultConfig())
	b, err := openBackend(cfg, m)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if err := b.store.Close(); err != nil {
			logger.Warningf("closing store: %v", err)
		}
	}()
	defer b.swarms.Subscribe(rebuildLog{})()

	tcfg, err := cfg.TransportConfig()
	if err != nil {
		return errors.Trace(err)
	}
	rooms, err := transport.NewRoomClient(tcfg)
	if err != nil {
		return errors.Trace(err)
	}

	h, err := poller.NewHandler(poller.HandlerConfig{
		Queue:        &logQueue{},
		Store:        b.store,
		Messages:     b.store,
		Metrics:      m,
		RecentHashes: cfg.Polling.RecentHashes,
	})
	if err != nil {
		return errors.Trace(err)
	}
	reg, err := poller.NewRegistry(poller.RegistryConfig{
		Factory: &poller.Targets{
			Config:    cfg.PollerConfig(),
			Swarms:    b.swarms,
			Picker:    swarm.NewSelector(),
			Transport: b.nodes,
			Rooms:     rooms,
			Store:     b.store,
			Metrics:   m,
		},
		Handler:    h,
		Membership: b.store,
		Metrics:    m,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := syncMembership(b.store, cfg); err != nil {
		return errors.Trace(err)
	}

	srv := serveMetrics(cfg.MetricsAddr, m)

	if cfg.Identity.PublicKey != "" {
		reg.StartPolling(swarmpoll.OwnMailboxIdentity(cfg.Identity.PublicKey))
	}
	reg.StartAll(swarmpoll.ClosedGroup)
	reg.StartAll(swarmpoll.OpenGroup)
	logger.Infof("polling %d mailboxes", len(reg.Active()))

	<-ctx.Done()
	logger.Infof("shutting down")
	reg.Shutdown()

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warningf("metrics server shutdown: %v", err)
		}
	}
	return nil
}

// syncMembership makes the persisted group lists match the config file.
func syncMembership(st swarmpoll.Store, cfg *config.Config) error {
	byKind := map[swarmpoll.Kind][]swarmpoll.Identity{}
	for _, id := range cfg.Identities() {
		if id.Kind != swarmpoll.OwnMailbox {
			byKind[id.Kind] = append(byKind[id.Kind], id)
		}
	}
	for _, kind := range []swarmpoll.Kind{swarmpoll.ClosedGroup, swarmpoll.OpenGroup} {
		if err := st.SetMembership(kind, byKind[kind]); err != nil {
			return errors.Annotatef(err, "saving %s membership", kind)
		}
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s/metrics", addr)
	return srv
}
