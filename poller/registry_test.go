package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/store"
	"github.com/unkn0wn-root/swarmpoll/swarm"
)

type regFixture struct {
	net *nodeNet
	st  *store.Memory
	reg *Registry
}

func newRegFixture(t *testing.T) *regFixture {
	t.Helper()
	net := newNodeNet("05me", testNodes(3)...)
	net.swarms["05g1"] = testNodes(3)
	net.swarms["05g2"] = testNodes(4)
	st := store.NewMemory()
	clk := testclock.NewClock(time.Unix(1_700_000_000, 0))

	h, err := NewHandler(HandlerConfig{Queue: &recordingQueue{}, Store: st, Messages: st, Clock: clk})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	reg, err := NewRegistry(RegistryConfig{
		Factory: &Targets{
			Swarms:    newCache(t, net, st),
			Picker:    swarm.NewSelector(),
			Transport: net,
			Store:     st,
			Clock:     clk,
		},
		Handler:    h,
		Membership: st,
		Clock:      clk,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(reg.Shutdown)
	return &regFixture{net: net, st: st, reg: reg}
}

func keys(ids []swarmpoll.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Key()
	}
	return out
}

func TestRegistryStartPollingIsIdempotent(t *testing.T) {
	f := newRegFixture(t)
	me := swarmpoll.OwnMailboxIdentity("05me")

	f.reg.StartPolling(me)
	f.reg.StartPolling(me)
	if got := f.reg.Active(); len(got) != 1 || got[0] != me {
		t.Fatalf("active = %v", keys(got))
	}
	s, ok := f.reg.Scheduler(me)
	if !ok {
		t.Fatalf("no scheduler for %s", me)
	}
	waitFor(t, "first attempt", func() bool { return f.net.callCount() >= 1 })
	waitFor(t, "waiting", func() bool { return s.State() == Waiting })
	if n := f.net.callCount(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}

	f.reg.StopPolling(me)
	if got := f.reg.Active(); len(got) != 0 {
		t.Fatalf("active after stop = %v", keys(got))
	}
	if s.State() != Idle {
		t.Fatalf("scheduler not stopped")
	}
	f.reg.StopPolling(me)
}

func TestRegistryStartAllStopAll(t *testing.T) {
	f := newRegFixture(t)
	groups := []swarmpoll.Identity{swarmpoll.ClosedGroupIdentity("05g1"), swarmpoll.ClosedGroupIdentity("05g2")}
	_ = f.st.SetMembership(swarmpoll.ClosedGroup, groups)

	me := swarmpoll.OwnMailboxIdentity("05me")
	f.reg.StartPolling(me)
	f.reg.StartAll(swarmpoll.ClosedGroup)

	got := keys(f.reg.Active())
	want := []string{"closed-group:05g1", "closed-group:05g2", "own:05me"}
	if len(got) != len(want) {
		t.Fatalf("active = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("active = %v, want %v", got, want)
		}
	}

	f.reg.StopAll(swarmpoll.ClosedGroup)
	if got := keys(f.reg.Active()); len(got) != 1 || got[0] != "own:05me" {
		t.Fatalf("active after StopAll = %v", got)
	}
}

func TestRegistryFactoryFailureIsContained(t *testing.T) {
	st := store.NewMemory()
	h, err := NewHandler(HandlerConfig{Queue: &recordingQueue{}, Store: st})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	reg, err := NewRegistry(RegistryConfig{
		Factory: TargetFactoryFunc(func(swarmpoll.Identity) (Target, error) {
			return nil, errors.New("no keys for mailbox")
		}),
		Handler:    h,
		Membership: st,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer reg.Shutdown()

	reg.StartPolling(swarmpoll.OwnMailboxIdentity("05me"))
	if got := reg.Active(); len(got) != 0 {
		t.Fatalf("active = %v", keys(got))
	}
}

func TestRegistryRestartDoesNotOverlap(t *testing.T) {
	f := newRegFixture(t)
	f.net.block = make(chan struct{})
	me := swarmpoll.OwnMailboxIdentity("05me")

	f.reg.StartPolling(me)
	waitFor(t, "rpc in flight", func() bool { return f.net.callCount() == 1 })
	f.reg.StopPolling(me)
	f.reg.StartPolling(me)

	time.Sleep(20 * time.Millisecond)
	if n := f.net.callCount(); n != 1 {
		t.Fatalf("new scheduler overlapped the draining one (%d calls)", n)
	}
	close(f.net.block)
	waitFor(t, "restarted attempt", func() bool { return f.net.callCount() == 2 })
	if p := f.net.maxPar.Load(); p != 1 {
		t.Fatalf("max concurrent retrievals = %d", p)
	}
}

func TestRegistryForgetsExitedRuns(t *testing.T) {
	f := newRegFixture(t)
	me := swarmpoll.OwnMailboxIdentity("05me")
	grp := swarmpoll.ClosedGroupIdentity("05g1")

	f.reg.StartPolling(me)
	f.reg.StartPolling(grp)
	s, _ := f.reg.Scheduler(me)
	f.reg.StopPolling(me)
	s.Wait()
	f.reg.StopPolling(grp)

	f.reg.mu.Lock()
	_, kept := f.reg.stopped[me.Key()]
	n := len(f.reg.stopped)
	f.reg.mu.Unlock()
	if kept || n > 1 {
		t.Fatalf("registry still tracks %d stopped runs (own mailbox kept: %v)", n, kept)
	}
}

func TestRegistryShutdownWaits(t *testing.T) {
	f := newRegFixture(t)
	f.net.block = make(chan struct{})
	f.reg.StartPolling(swarmpoll.OwnMailboxIdentity("05me"))
	waitFor(t, "rpc in flight", func() bool { return f.net.callCount() == 1 })

	done := make(chan struct{})
	go func() {
		f.reg.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("shutdown returned while an attempt was draining")
	case <-time.After(20 * time.Millisecond):
	}
	close(f.net.block)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("shutdown did not return")
	}
	if got := f.reg.Active(); len(got) != 0 {
		t.Fatalf("active after shutdown = %v", keys(got))
	}
}

func TestRegistryConfigValidate(t *testing.T) {
	if _, err := NewRegistry(RegistryConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
