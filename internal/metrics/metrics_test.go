package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Poll("own", ResultOK, time.Second)
	m.Envelopes("own", OutcomeDispatched, 3)
	m.SwarmFetch(true)
	m.NodeFailure()
	m.NodeEviction()
	m.Rotation("own")
	m.PollerStarted("own")
	m.PollerStopped("own")
	if m.Registry() != nil {
		t.Fatalf("nil metrics returned a registry")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status %d", rec.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New(Config{})
	m.Poll("own", ResultOK, 20*time.Millisecond)
	m.Poll("own", ResultOK, 30*time.Millisecond)
	m.Poll("closed-group", ResultInsufficient, time.Millisecond)
	m.Envelopes("own", OutcomeDuplicate, 0)
	m.SwarmFetch(false)
	m.NodeFailure()
	m.NodeFailure()

	want := `
# HELP swarmpoll_poller_polls_total Retrieval attempts by mailbox kind and result.
# TYPE swarmpoll_poller_polls_total counter
swarmpoll_poller_polls_total{kind="closed-group",result="insufficient_swarm"} 1
swarmpoll_poller_polls_total{kind="own",result="ok"} 2
# HELP swarmpoll_swarm_fetches_total Network swarm fetches by result.
# TYPE swarmpoll_swarm_fetches_total counter
swarmpoll_swarm_fetches_total{result="error"} 1
# HELP swarmpoll_swarm_node_failures_total Transport failures reported against storage nodes.
# TYPE swarmpoll_swarm_node_failures_total counter
swarmpoll_swarm_node_failures_total 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"swarmpoll_poller_polls_total", "swarmpoll_swarm_fetches_total", "swarmpoll_swarm_node_failures_total"); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	n, err := testutil.GatherAndCount(m.Registry(), "swarmpoll_poller_envelopes_total")
	if err != nil || n != 0 {
		t.Fatalf("zero-sized envelope batch recorded a series (%d, %v)", n, err)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(DefaultConfig())
	m.PollerStarted("open-group")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `swarmpoll_poller_active{kind="open-group"} 1`) {
		t.Fatalf("active gauge missing from exposition")
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("go collector not registered")
	}
}
