package store

import (
	"encoding/binary"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/juju/errors"

	"github.com/unkn0wn-root/swarmpoll"
)

// Codec encodes persisted values. Encodings must stay stable across
// releases since the database outlives the process.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

type CBORCodec[V any] struct{}

func (CBORCodec[V]) Encode(v V) ([]byte, error) { return cbor.Marshal(v) }
func (CBORCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := cbor.Unmarshal(b, &v)
	return v, err
}

var (
	nodesCodec    CBORCodec[[]swarmpoll.StorageNode]
	identityCodec CBORCodec[[]swarmpoll.Identity]
	timeCodec     CBORCodec[int64]
)

// Key layout. Every key starts with a one-byte table tag.
const (
	tagSwarm    byte = 's'
	tagMark     byte = 'w'
	tagMember   byte = 'm'
	tagActivity byte = 'a'
	tagServerID byte = 'i'
)

func tableKey(tag byte, name string) []byte {
	k := make([]byte, 0, len(name)+2)
	k = append(k, tag, '/')
	return append(k, name...)
}

// serverIDKey sorts numerically within one identity so a room's mappings
// can be range-scanned in server order.
func serverIDKey(id swarmpoll.Identity, serverID int64) []byte {
	k := tableKey(tagServerID, id.Key())
	k = append(k, 0)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(serverID))
	return append(k, buf[:]...)
}

func serverIDPrefix(id swarmpoll.Identity) []byte {
	return append(tableKey(tagServerID, id.Key()), 0)
}

func decodeServerID(key []byte) (int64, error) {
	if len(key) < 8 {
		return 0, errors.NotValidf("server id key %q", key)
	}
	return int64(binary.BigEndian.Uint64(key[len(key)-8:])), nil
}
