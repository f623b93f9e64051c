package localstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/ristretto"

	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// BadgerStore is a crash-recoverable Store. Inbox, the forwarded set and
// the solution cache are written through to an embedded Badger database
// so a worker that restarts mid-superstep can resume without having to
// replay the work-set log any further back than the current superstep's
// start. The active set stays purely in memory: it is discarded wholesale
// at the end of every superstep (see GC) and reconstructing it from
// scratch by re-running Buffer/Forward is as cheap as persisting
// it, so it is kept in a plain mutex-guarded map instead. A Ristretto
// cache sits in front of Badger reads for the solution set, since compute
// re-reads the same handful of hot vertices every superstep.
type BadgerStore[K comparable, Msg, VV any] struct {
	db    *badger.DB
	cache *ristretto.Cache

	mu     sync.Mutex
	active map[activeKey]map[K]bool
}

// OpenBadgerStore opens (creating if absent) a Badger database at dir for
// worker-local state.
func OpenBadgerStore[K comparable, Msg, VV any](dir string) (*BadgerStore[K, Msg, VV], error) {
	db, err := badger.Open(badger.DefaultOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("localstore: open badger at %s: %w", dir, err)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("localstore: new ristretto cache: %w", err)
	}
	return &BadgerStore[K, Msg, VV]{
		db:     db,
		cache:  cache,
		active: make(map[activeKey]map[K]bool),
	}, nil
}

func (s *BadgerStore[K, Msg, VV]) Close() error {
	s.cache.Close()
	return s.db.Close()
}

func gobBytesOf(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecodeInto(b []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(out)
}

func stepBytes(step int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(step))
	return b
}

func inboxPrefix(step int32) []byte {
	return append([]byte("in/"), stepBytes(step)...)
}

func inboxKeyBytes(step int32, dst, src any) ([]byte, error) {
	dstB, err := gobBytesOf(dst)
	if err != nil {
		return nil, err
	}
	srcB, err := gobBytesOf(src)
	if err != nil {
		return nil, err
	}
	key := append(inboxPrefix(step), '/')
	key = append(key, dstB...)
	key = append(key, '/')
	key = append(key, srcB...)
	return key, nil
}

func inboxDstPrefix(step int32, dst any) ([]byte, error) {
	dstB, err := gobBytesOf(dst)
	if err != nil {
		return nil, err
	}
	key := append(inboxPrefix(step), '/')
	key = append(key, dstB...)
	key = append(key, '/')
	return key, nil
}

func seedKeyBytes(step int32, dst any) ([]byte, error) {
	dstB, err := gobBytesOf(dst)
	if err != nil {
		return nil, err
	}
	key := append([]byte("sd/"), stepBytes(step)...)
	key = append(key, '/')
	key = append(key, dstB...)
	return key, nil
}

func seedPrefix(step int32) []byte {
	return append(append([]byte("sd/"), stepBytes(step)...), '/')
}

func forwardedKeyBytes(step int32, dst any) ([]byte, error) {
	dstB, err := gobBytesOf(dst)
	if err != nil {
		return nil, err
	}
	key := append([]byte("fw/"), stepBytes(step)...)
	key = append(key, '/')
	key = append(key, dstB...)
	return key, nil
}

func solutionKeyBytes(dst any) ([]byte, error) {
	dstB, err := gobBytesOf(dst)
	if err != nil {
		return nil, err
	}
	return append([]byte("sol/"), dstB...), nil
}

func (s *BadgerStore[K, Msg, VV]) BufferMessage(_ context.Context, step int32, dst, src K, msg Msg, hasMsg bool) error {
	seedKey, err := seedKeyBytes(step, dst)
	if err != nil {
		return err
	}
	fwKey, err := forwardedKeyBytes(step, dst)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if hasMsg {
			key, err := inboxKeyBytes(step, dst, src)
			if err != nil {
				return err
			}
			val, err := gobBytesOf(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(key, val); err != nil {
				return err
			}
		}
		if err := txn.Set(seedKey, []byte{1}); err != nil {
			return err
		}
		if err := txn.Delete(fwKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
}

func (s *BadgerStore[K, Msg, VV]) Inbox(_ context.Context, step int32, dst K) (map[K]Msg, error) {
	prefix, err := inboxDstPrefix(step, dst)
	if err != nil {
		return nil, err
	}
	var out map[K]Msg
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			srcGob := it.Item().KeyCopy(nil)[len(prefix):]
			var src K
			if err := gobDecodeInto(srcGob, &src); err != nil {
				return err
			}
			var msg Msg
			if err := it.Item().Value(func(v []byte) error { return gobDecodeInto(v, &msg) }); err != nil {
				return err
			}
			if out == nil {
				out = make(map[K]Msg)
			}
			out[src] = msg
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore[K, Msg, VV]) PendingDestinations(_ context.Context, step int32) ([]K, error) {
	prefix := seedPrefix(step)
	var out []K
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			dstGob := it.Item().KeyCopy(nil)[len(prefix):]
			fwKey, err := forwardedKeyBytesRaw(step, dstGob)
			if err != nil {
				return err
			}
			if _, err := txn.Get(fwKey); err == nil {
				continue // already forwarded
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			var dst K
			if err := gobDecodeInto(dstGob, &dst); err != nil {
				return err
			}
			out = append(out, dst)
		}
		return nil
	})
	return out, err
}

func forwardedKeyBytesRaw(step int32, dstGob []byte) ([]byte, error) {
	key := append([]byte("fw/"), stepBytes(step)...)
	key = append(key, '/')
	key = append(key, dstGob...)
	return key, nil
}

func (s *BadgerStore[K, Msg, VV]) MarkForwarded(_ context.Context, step int32, dst K) error {
	key, err := forwardedKeyBytes(step, dst)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, []byte{1}) })
}

func (s *BadgerStore[K, Msg, VV]) ActivateVertex(_ context.Context, step int32, partition int, dst K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := activeKey{step, partition}
	set := s.active[ak]
	if set == nil {
		set = make(map[K]bool)
		s.active[ak] = set
	}
	set[dst] = true
	return nil
}

func (s *BadgerStore[K, Msg, VV]) DeactivateVertex(_ context.Context, step int32, partition int, dst K) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := activeKey{step, partition}
	set := s.active[ak]
	delete(set, dst)
	return len(set) == 0, nil
}

func (s *BadgerStore[K, Msg, VV]) ActiveCount(_ context.Context, step int32, partition int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[activeKey{step, partition}]), nil
}

func (s *BadgerStore[K, Msg, VV]) GetSolution(_ context.Context, dst K) (ptypes.SolutionEntry[VV], bool, error) {
	key, err := solutionKeyBytes(dst)
	if err != nil {
		return ptypes.SolutionEntry[VV]{}, false, err
	}
	if cached, ok := s.cache.Get(string(key)); ok {
		return cached.(ptypes.SolutionEntry[VV]), true, nil
	}
	var entry ptypes.SolutionEntry[VV]
	found := false
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error { return gobDecodeInto(v, &entry) })
	})
	if err != nil {
		return ptypes.SolutionEntry[VV]{}, false, err
	}
	if found {
		s.cache.Set(string(key), entry, 1)
	}
	return entry, found, nil
}

func (s *BadgerStore[K, Msg, VV]) PutSolution(_ context.Context, dst K, entry ptypes.SolutionEntry[VV]) error {
	key, err := solutionKeyBytes(dst)
	if err != nil {
		return err
	}
	val, err := gobBytesOf(entry)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return txn.Set(key, val) }); err != nil {
		return err
	}
	s.cache.Set(string(key), entry, 1)
	return nil
}

func (s *BadgerStore[K, Msg, VV]) GC(_ context.Context, step int32) error {
	s.mu.Lock()
	for ak := range s.active {
		if ak.step == step {
			delete(s.active, ak)
		}
	}
	s.mu.Unlock()

	prefixes := [][]byte{inboxPrefix(step), seedPrefix(step), append([]byte("fw/"), stepBytes(step)...)}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			var keys [][]byte
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

var _ Store[string, int, int] = (*BadgerStore[string, int, int])(nil)
