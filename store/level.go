package store

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/unkn0wn-root/swarmpoll"
)

var logger = loggo.GetLogger("swarmpoll.store")

// Level persists everything in a goleveldb database. Values are CBOR.
type Level struct {
	db *leveldb.DB
}

var (
	_ swarmpoll.Store        = (*Level)(nil)
	_ swarmpoll.MessageStore = (*Level)(nil)
)

// OpenLevel opens (creating if needed) the database in dir.
func OpenLevel(dir string) (*Level, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, errors.Annotatef(err, "opening store at %s", dir)
	}
	return &Level{db: db}, nil
}

// OpenLevelStorage opens the database on an arbitrary goleveldb storage,
// e.g. storage.NewMemStorage() in tests.
func OpenLevelStorage(stor storage.Storage) (*Level, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, errors.Annotate(err, "opening store")
	}
	return &Level{db: db}, nil
}

func (l *Level) Close() error {
	return l.db.Close()
}

// get returns nil, nil for a missing key.
func (l *Level) get(key []byte) ([]byte, error) {
	b, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "reading %q", key)
	}
	return b, nil
}

func (l *Level) Swarm(publicKey string) ([]swarmpoll.StorageNode, error) {
	b, err := l.get(tableKey(tagSwarm, publicKey))
	if err != nil || b == nil {
		return nil, err
	}
	nodes, err := nodesCodec.Decode(b)
	if err != nil {
		// a corrupt copy is as good as none; the cache will refetch
		logger.Warningf("dropping undecodable swarm for %s: %v", publicKey, err)
		return nil, nil
	}
	return nodes, nil
}

func (l *Level) SetSwarm(publicKey string, nodes []swarmpoll.StorageNode) error {
	b, err := nodesCodec.Encode(nodes)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(l.db.Put(tableKey(tagSwarm, publicKey), b, nil))
}

func (l *Level) DeleteSwarm(publicKey string) error {
	return errors.Trace(l.db.Delete(tableKey(tagSwarm, publicKey), nil))
}

func (l *Level) Watermark(key string) (string, error) {
	b, err := l.get(tableKey(tagMark, key))
	return string(b), err
}

func (l *Level) SetWatermark(key, value string) error {
	return errors.Trace(l.db.Put(tableKey(tagMark, key), []byte(value), nil))
}

func (l *Level) Membership(kind swarmpoll.Kind) ([]swarmpoll.Identity, error) {
	b, err := l.get(tableKey(tagMember, kind.String()))
	if err != nil || b == nil {
		return nil, err
	}
	ids, err := identityCodec.Decode(b)
	return ids, errors.Annotatef(err, "decoding %s membership", kind)
}

func (l *Level) SetMembership(kind swarmpoll.Kind, ids []swarmpoll.Identity) error {
	b, err := identityCodec.Encode(ids)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(l.db.Put(tableKey(tagMember, kind.String()), b, nil))
}

func (l *Level) LastActivity(id swarmpoll.Identity) (time.Time, error) {
	b, err := l.get(tableKey(tagActivity, id.Key()))
	if err != nil || b == nil {
		return time.Time{}, err
	}
	ms, err := timeCodec.Decode(b)
	if err != nil {
		return time.Time{}, errors.Annotatef(err, "decoding activity of %s", id)
	}
	return time.UnixMilli(ms), nil
}

func (l *Level) SetLastActivity(id swarmpoll.Identity, at time.Time) error {
	b, err := timeCodec.Encode(at.UnixMilli())
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(l.db.Put(tableKey(tagActivity, id.Key()), b, nil))
}

func (l *Level) MapServerID(id swarmpoll.Identity, serverID int64, hash string) error {
	return errors.Trace(l.db.Put(serverIDKey(id, serverID), []byte(hash), nil))
}

// RemoveByServerID deletes the mappings of serverIDs in one batch and
// returns how many existed.
func (l *Level) RemoveByServerID(id swarmpoll.Identity, serverIDs []int64) (int, error) {
	batch := new(leveldb.Batch)
	n := 0
	for _, sid := range serverIDs {
		key := serverIDKey(id, sid)
		ok, err := l.db.Has(key, nil)
		if err != nil {
			return 0, errors.Trace(err)
		}
		if ok {
			batch.Delete(key)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := l.db.Write(batch, nil); err != nil {
		return 0, errors.Annotatef(err, "removing %d messages of %s", n, id)
	}
	return n, nil
}

// ServerIDs lists the mapped server message IDs of id in ascending order.
func (l *Level) ServerIDs(id swarmpoll.Identity) ([]int64, error) {
	it := l.db.NewIterator(util.BytesPrefix(serverIDPrefix(id)), nil)
	defer it.Release()
	var out []int64
	for it.Next() {
		sid, err := decodeServerID(it.Key())
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, sid)
	}
	return out, errors.Trace(it.Error())
}
