package swarmpoll

import (
	"strings"
)

// Kind selects the family a mailbox belongs to. Each family has its own
// scheduling policy.
type Kind uint8

const (
	OwnMailbox  Kind = iota + 1 // the local user's inbox
	ClosedGroup                 // a closed group's shared inbox on the swarm
	OpenGroup                   // a room on an open group server
)

// Storage network namespaces.
const (
	DefaultNamespace     = 0
	ClosedGroupNamespace = -10
)

func (k Kind) String() string {
	switch k {
	case OwnMailbox:
		return "own"
	case ClosedGroup:
		return "closed-group"
	case OpenGroup:
		return "open-group"
	default:
		return "unknown"
	}
}

// Kinds lists every known family.
func Kinds() []Kind {
	return []Kind{OwnMailbox, ClosedGroup, OpenGroup}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Identity is what gets polled: a public key for swarm-backed mailboxes or
// a (server, room) pair for open groups.
type Identity struct {
	Kind      Kind   `cbor:"k" yaml:"kind"`
	PublicKey string `cbor:"pk,omitempty" yaml:"public_key,omitempty"`
	Server    string `cbor:"s,omitempty" yaml:"server,omitempty"`
	Room      string `cbor:"r,omitempty" yaml:"room,omitempty"`
}

func OwnMailboxIdentity(publicKey string) Identity {
	return Identity{Kind: OwnMailbox, PublicKey: publicKey}
}

func ClosedGroupIdentity(publicKey string) Identity {
	return Identity{Kind: ClosedGroup, PublicKey: publicKey}
}

// OpenGroupIdentity normalizes the server URL so the same room reached via
// differently cased URLs maps to one scheduler.
func OpenGroupIdentity(server, room string) Identity {
	return Identity{Kind: OpenGroup, Server: strings.TrimRight(strings.ToLower(server), "/"), Room: room}
}

// Key is the stable string used for registry, persistence and dedup keys.
func (id Identity) Key() string {
	if id.Kind == OpenGroup {
		return id.Kind.String() + ":" + id.Server + "/" + id.Room
	}
	return id.Kind.String() + ":" + id.PublicKey
}

// SwarmBacked reports whether the mailbox lives on a storage-node swarm.
func (id Identity) SwarmBacked() bool {
	return id.Kind == OwnMailbox || id.Kind == ClosedGroup
}

func (id Identity) String() string {
	if id.Kind == OpenGroup {
		return id.Server + "/" + id.Room
	}
	pk := id.PublicKey
	if len(pk) > 12 {
		pk = pk[:12] + "…"
	}
	return id.Kind.String() + "(" + pk + ")"
}
