package store

import (
	"testing"
	"time"

	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/unkn0wn-root/swarmpoll"
)

type backend interface {
	swarmpoll.Store
	swarmpoll.MessageStore
}

func newLevel(t *testing.T) *Level {
	t.Helper()
	l, err := OpenLevelStorage(storage.NewMemStorage())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func backends(t *testing.T) map[string]backend {
	return map[string]backend{
		"memory": NewMemory(),
		"level":  newLevel(t),
	}
}

var (
	nodeA = swarmpoll.StorageNode{Host: "10.0.0.1", Port: 22021, ED25519Key: "ed-a", X25519Key: "x-a"}
	nodeB = swarmpoll.StorageNode{Host: "10.0.0.2", Port: 22021, ED25519Key: "ed-b", X25519Key: "x-b"}
)

func TestSwarmRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Swarm("05abc")
			if err != nil || len(got) != 0 {
				t.Fatalf("missing swarm: %v %v", got, err)
			}
			if err := s.SetSwarm("05abc", []swarmpoll.StorageNode{nodeA, nodeB}); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err = s.Swarm("05abc")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got) != 2 || got[0] != nodeA || got[1] != nodeB {
				t.Fatalf("unexpected swarm %+v", got)
			}
			if err := s.DeleteSwarm("05abc"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			got, _ = s.Swarm("05abc")
			if len(got) != 0 {
				t.Fatalf("swarm survived delete: %+v", got)
			}
		})
	}
}

func TestWatermarkAndActivity(t *testing.T) {
	id := swarmpoll.ClosedGroupIdentity("05group")
	at := time.UnixMilli(1_700_000_000_000)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if wm, _ := s.Watermark(id.Key()); wm != "" {
				t.Fatalf("expected empty watermark, got %q", wm)
			}
			if err := s.SetWatermark(id.Key(), "h3"); err != nil {
				t.Fatalf("set watermark: %v", err)
			}
			if wm, _ := s.Watermark(id.Key()); wm != "h3" {
				t.Fatalf("watermark = %q", wm)
			}

			if last, _ := s.LastActivity(id); !last.IsZero() {
				t.Fatalf("expected zero activity, got %v", last)
			}
			if err := s.SetLastActivity(id, at); err != nil {
				t.Fatalf("set activity: %v", err)
			}
			if last, _ := s.LastActivity(id); !last.Equal(at) {
				t.Fatalf("activity = %v, want %v", last, at)
			}
		})
	}
}

func TestMembershipPerKind(t *testing.T) {
	groups := []swarmpoll.Identity{swarmpoll.ClosedGroupIdentity("05g1"), swarmpoll.ClosedGroupIdentity("05g2")}
	rooms := []swarmpoll.Identity{swarmpoll.OpenGroupIdentity("https://open.example.org/", "lobby")}
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SetMembership(swarmpoll.ClosedGroup, groups); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.SetMembership(swarmpoll.OpenGroup, rooms); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err := s.Membership(swarmpoll.ClosedGroup)
			if err != nil || len(got) != 2 || got[1] != groups[1] {
				t.Fatalf("closed groups = %+v, %v", got, err)
			}
			got, err = s.Membership(swarmpoll.OpenGroup)
			if err != nil || len(got) != 1 || got[0].Server != "https://open.example.org" {
				t.Fatalf("rooms = %+v, %v", got, err)
			}
			got, _ = s.Membership(swarmpoll.OwnMailbox)
			if len(got) != 0 {
				t.Fatalf("unexpected own membership %+v", got)
			}
		})
	}
}

func TestRemoveByServerID(t *testing.T) {
	room := swarmpoll.OpenGroupIdentity("https://open.example.org", "lobby")
	other := swarmpoll.OpenGroupIdentity("https://open.example.org", "dev")
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for sid, h := range map[int64]string{1: "h1", 2: "h2", 300: "h300"} {
				if err := s.MapServerID(room, sid, h); err != nil {
					t.Fatalf("map: %v", err)
				}
			}
			if err := s.MapServerID(other, 2, "x2"); err != nil {
				t.Fatalf("map: %v", err)
			}

			n, err := s.RemoveByServerID(room, []int64{2, 300, 999})
			if err != nil {
				t.Fatalf("remove: %v", err)
			}
			if n != 2 {
				t.Fatalf("removed %d, want 2", n)
			}

			var left, otherLeft []int64
			switch b := s.(type) {
			case *Memory:
				left, otherLeft = b.ServerIDs(room), b.ServerIDs(other)
			case *Level:
				left, _ = b.ServerIDs(room)
				otherLeft, _ = b.ServerIDs(other)
			}
			if len(left) != 1 || left[0] != 1 {
				t.Fatalf("remaining ids = %v", left)
			}
			if len(otherLeft) != 1 || otherLeft[0] != 2 {
				t.Fatalf("other room touched: %v", otherLeft)
			}
		})
	}
}

func TestLevelSurvivesReopen(t *testing.T) {
	stor := storage.NewMemStorage()
	l, err := OpenLevelStorage(stor)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.SetWatermark("own:05abc", "h9"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l, err = OpenLevelStorage(stor)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()
	if wm, _ := l.Watermark("own:05abc"); wm != "h9" {
		t.Fatalf("watermark after reopen = %q", wm)
	}
}

func TestServerIDKeyOrdering(t *testing.T) {
	room := swarmpoll.OpenGroupIdentity("https://a", "r")
	k1, k2 := serverIDKey(room, 9), serverIDKey(room, 10)
	if string(k1) >= string(k2) {
		t.Fatalf("keys not ordered numerically")
	}
	sid, err := decodeServerID(k2)
	if err != nil || sid != 10 {
		t.Fatalf("decode = %d, %v", sid, err)
	}
}
