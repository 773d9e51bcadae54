package poller

import (
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/swarmpoll"
	"github.com/unkn0wn-root/swarmpoll/internal/metrics"
	"github.com/unkn0wn-root/swarmpoll/store"
)

type schedFixture struct {
	net   *nodeNet
	st    *store.Memory
	queue *recordingQueue
	clk   *testclock.Clock
	m     *metrics.Metrics
	s     *Scheduler
}

func newSchedFixture(t *testing.T, nodes ...swarmpoll.StorageNode) *schedFixture {
	t.Helper()
	f := &schedFixture{
		net:   newNodeNet("05me", nodes...),
		st:    store.NewMemory(),
		queue: &recordingQueue{},
		clk:   testclock.NewClock(time.Unix(1_700_000_000, 0)),
		m:     metrics.New(metrics.Config{}),
	}
	h, err := NewHandler(HandlerConfig{Queue: f.queue, Store: f.st, Clock: f.clk})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	s, err := NewScheduler(SchedulerConfig{
		Target:  newOwnTarget(t, f.net, f.st, "05me"),
		Handler: h,
		Clock:   f.clk,
		Metrics: f.m,
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	f.s = s
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return f
}

func (f *schedFixture) replyAll(resp swarmpoll.RetrieveResponse) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	for _, n := range f.net.swarms["05me"] {
		f.net.replies[n] = resp
	}
}

func TestSchedulerConfigValidate(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Fatalf("expected error without target")
	}
}

func TestSchedulerPollsImmediatelyThenOnInterval(t *testing.T) {
	f := newSchedFixture(t, testNodes(3)...)
	if got := f.s.State(); got != Idle {
		t.Fatalf("initial state %s", got)
	}

	f.s.Start()
	waitFor(t, "first attempt", func() bool { return f.net.callCount() == 1 })
	waitFor(t, "waiting state", func() bool { return f.s.State() == Waiting })

	if err := f.clk.WaitAdvance(Default().OwnInterval, time.Second, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, "second attempt", func() bool { return f.net.callCount() == 2 })

	f.s.Stop()
	if got := f.s.State(); got != Idle {
		t.Fatalf("state after stop %s", got)
	}
	f.s.Wait()
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	f := newSchedFixture(t, testNodes(3)...)
	f.s.Start()
	f.s.Start()
	waitFor(t, "waiting state", func() bool { return f.s.State() == Waiting })
	f.s.Start()

	time.Sleep(20 * time.Millisecond)
	if n := f.net.callCount(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
	want := `
# HELP swarmpoll_poller_active Running schedulers by mailbox kind.
# TYPE swarmpoll_poller_active gauge
swarmpoll_poller_active{kind="own"} 1
`
	if err := testutil.GatherAndCompare(f.m.Registry(), strings.NewReader(want), "swarmpoll_poller_active"); err != nil {
		t.Fatalf("active gauge: %v", err)
	}
}

func TestStopDuringRPCDiscardsResult(t *testing.T) {
	f := newSchedFixture(t, testNodes(3)...)
	f.replyAll(swarmpoll.RetrieveResponse{
		Envelopes: []swarmpoll.RawEnvelope{raw("h1", "late", 1)},
		Watermark: "h1",
	})
	f.net.block = make(chan struct{})

	f.s.Start()
	waitFor(t, "rpc in flight", func() bool { return f.s.InFlight() && f.net.callCount() == 1 })

	f.s.Stop()
	close(f.net.block)
	f.s.Wait()

	if got := f.queue.hashes(); len(got) != 0 {
		t.Fatalf("stopped scheduler dispatched %v", got)
	}
	if wm, _ := f.st.Watermark(swarmpoll.OwnMailboxIdentity("05me").Key()); wm != "" {
		t.Fatalf("stopped scheduler advanced watermark to %q", wm)
	}
	select {
	case <-f.clk.Alarms():
		t.Fatalf("stopped scheduler armed a timer")
	default:
	}
	if f.s.InFlight() {
		t.Fatalf("attempt still marked in flight")
	}
}

func TestStopDuringDispatchLeavesRestQueued(t *testing.T) {
	f := newSchedFixture(t, testNodes(3)...)
	f.replyAll(swarmpoll.RetrieveResponse{
		Envelopes: []swarmpoll.RawEnvelope{raw("h1", "a", 1), raw("h2", "b", 2), raw("h3", "c", 3)},
		Watermark: "h3",
	})
	f.queue.onEnqueue = func(swarmpoll.Envelope) { f.s.Stop() }

	f.s.Start()
	waitFor(t, "first dispatch", func() bool { return len(f.queue.hashes()) > 0 })
	f.s.Wait()

	if got := f.queue.hashes(); len(got) != 1 {
		t.Fatalf("stopped scheduler dispatched %v, want only the first", got)
	}
	if wm, _ := f.st.Watermark(swarmpoll.OwnMailboxIdentity("05me").Key()); wm != "" {
		t.Fatalf("partial batch advanced watermark to %q", wm)
	}
}

func TestRestartWaitsForDrainingAttempt(t *testing.T) {
	f := newSchedFixture(t, testNodes(3)...)
	f.net.block = make(chan struct{})

	f.s.Start()
	waitFor(t, "rpc in flight", func() bool { return f.net.callCount() == 1 })
	f.s.Stop()
	f.s.Start()

	time.Sleep(20 * time.Millisecond)
	if n := f.net.callCount(); n != 1 {
		t.Fatalf("restarted run overlapped the draining attempt (%d calls)", n)
	}

	close(f.net.block)
	waitFor(t, "restarted attempt", func() bool { return f.net.callCount() == 2 })
	if p := f.net.maxPar.Load(); p != 1 {
		t.Fatalf("max concurrent retrievals = %d", p)
	}
}

func TestSchedulerRecoversFromExhaustedRound(t *testing.T) {
	nodes := testNodes(3)
	f := newSchedFixture(t, nodes...)
	for _, n := range nodes {
		f.net.setFail(n, nodeDown(n))
	}

	f.s.Start()
	waitFor(t, "round exhausted", func() bool { return f.s.State() == Waiting && f.net.callCount() == 3 })
	if got := f.net.fetches.Load(); got != 1 {
		t.Fatalf("fetches = %d", got)
	}

	for _, n := range nodes {
		f.net.setFail(n, nil)
	}
	if err := f.clk.WaitAdvance(Default().OwnInterval, time.Second, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	waitFor(t, "fresh swarm fetch", func() bool { return f.net.fetches.Load() == 2 })
	waitFor(t, "successful attempt", func() bool { return f.net.callCount() == 4 })

	// one series for the exhausted round, one for the recovery
	waitFor(t, "poll results counted", func() bool {
		n, err := testutil.GatherAndCount(f.m.Registry(), "swarmpoll_poller_polls_total")
		return err == nil && n == 2
	})
}

func TestSchedulerNeverOverlapsAttempts(t *testing.T) {
	f := newSchedFixture(t, testNodes(4)...)
	f.s.Start()
	for i := 0; i < 20; i++ {
		waitFor(t, "attempt", func() bool { return f.net.callCount() == i+1 })
		if err := f.clk.WaitAdvance(Default().OwnInterval, time.Second, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	if p := f.net.maxPar.Load(); p != 1 {
		t.Fatalf("max concurrent retrievals = %d", p)
	}
}
