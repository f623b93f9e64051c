// Package mongolog backs the four durable Pregel logs with MongoDB
// collections, in the same style as a double-buffered primary/secondary
// checkpoint collection for vertex state built on gopkg.in/mgo.v2. The
// compacted logs
// (vertices, edgesGroupedBySource, solutionSet) map onto upsert-by-key
// collections; the log-retention workSet stream maps onto an
// append-only, partition-tagged collection ordered by an auto-incrementing
// sequence field, which is the natural Mongo analogue of a Kafka
// partition's offset space.
package mongolog

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"sync"

	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/anujsrc/kafka-graphs/pregel/logstore"
	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// Dial opens a session against a MongoDB deployment. Close the returned
// session when the worker process shuts down.
func Dial(url string) (*mgo.Session, error) {
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("mongolog: dial %s: %w", url, err)
	}
	session.SetMode(mgo.Monotonic, true)
	return session, nil
}

func gobBytes(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(out)
}

func keyID(key any) (string, error) {
	b, err := gobBytes(key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type compactedDoc struct {
	ID    string `bson:"_id"`
	Value []byte `bson:"value"`
}

// VertexLog is a MongoDB-backed logstore.VertexLog over a compacted
// collection keyed by the vertex key's gob encoding.
type VertexLog[K comparable, VV any] struct {
	coll *mgo.Collection
}

func NewVertexLog[K comparable, VV any](session *mgo.Session, dbName, collection string) *VertexLog[K, VV] {
	return &VertexLog[K, VV]{coll: session.DB(dbName).C(collection)}
}

// Load upserts vertices into the compacted collection, used once when
// preparing a run.
func (l *VertexLog[K, VV]) Load(vertices map[K]VV) error {
	for k, v := range vertices {
		id, err := keyID(k)
		if err != nil {
			return err
		}
		val, err := gobBytes(v)
		if err != nil {
			return err
		}
		if _, err := l.coll.Upsert(bson.M{"_id": id}, bson.M{"$set": bson.M{"value": val}}); err != nil {
			return fmt.Errorf("mongolog: upsert vertex: %w", err)
		}
	}
	return nil
}

func (l *VertexLog[K, VV]) Snapshot(context.Context) (map[K]VV, error) {
	var docs []compactedDoc
	if err := l.coll.Find(nil).All(&docs); err != nil {
		return nil, fmt.Errorf("mongolog: snapshot vertices: %w", err)
	}
	out := make(map[K]VV, len(docs))
	for _, d := range docs {
		var k K
		idBytes, err := hex.DecodeString(d.ID)
		if err != nil {
			return nil, err
		}
		if err := gobDecode(idBytes, &k); err != nil {
			return nil, err
		}
		var v VV
		if err := gobDecode(d.Value, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

var _ logstore.VertexLog[string, int] = (*VertexLog[string, int])(nil)

// EdgeLog is a MongoDB-backed logstore.EdgeLog over a compacted
// collection keyed by source-vertex, storing the gob-encoded edge slice.
type EdgeLog[K comparable, EV any] struct {
	coll *mgo.Collection
}

func NewEdgeLog[K comparable, EV any](session *mgo.Session, dbName, collection string) *EdgeLog[K, EV] {
	return &EdgeLog[K, EV]{coll: session.DB(dbName).C(collection)}
}

// Load upserts the grouped-by-source edge table.
func (l *EdgeLog[K, EV]) Load(edges map[K][]ptypes.EdgeWithValue[K, EV]) error {
	for k, es := range edges {
		id, err := keyID(k)
		if err != nil {
			return err
		}
		val, err := gobBytes(es)
		if err != nil {
			return err
		}
		if _, err := l.coll.Upsert(bson.M{"_id": id}, bson.M{"$set": bson.M{"value": val}}); err != nil {
			return fmt.Errorf("mongolog: upsert edges: %w", err)
		}
	}
	return nil
}

func (l *EdgeLog[K, EV]) Edges(_ context.Context, key K) ([]ptypes.EdgeWithValue[K, EV], error) {
	id, err := keyID(key)
	if err != nil {
		return nil, err
	}
	var doc compactedDoc
	err = l.coll.Find(bson.M{"_id": id}).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongolog: get edges: %w", err)
	}
	var es []ptypes.EdgeWithValue[K, EV]
	if err := gobDecode(doc.Value, &es); err != nil {
		return nil, err
	}
	return es, nil
}

var _ logstore.EdgeLog[string, int] = (*EdgeLog[string, int])(nil)

// SolutionSetLog is a MongoDB-backed logstore.SolutionSetLog. Each
// Publish is an idempotent upsert of the gob-encoded SolutionEntry.
type SolutionSetLog[K comparable, VV any] struct {
	coll *mgo.Collection
}

func NewSolutionSetLog[K comparable, VV any](session *mgo.Session, dbName, collection string) *SolutionSetLog[K, VV] {
	return &SolutionSetLog[K, VV]{coll: session.DB(dbName).C(collection)}
}

func (l *SolutionSetLog[K, VV]) Publish(_ context.Context, key K, entry ptypes.SolutionEntry[VV]) error {
	id, err := keyID(key)
	if err != nil {
		return err
	}
	val, err := gobBytes(entry)
	if err != nil {
		return err
	}
	_, err = l.coll.Upsert(bson.M{"_id": id}, bson.M{"$set": bson.M{"value": val}})
	if err != nil {
		return fmt.Errorf("mongolog: publish solution delta: %w", err)
	}
	return nil
}

func (l *SolutionSetLog[K, VV]) Snapshot(context.Context) (map[K]ptypes.SolutionEntry[VV], error) {
	var docs []compactedDoc
	if err := l.coll.Find(nil).All(&docs); err != nil {
		return nil, fmt.Errorf("mongolog: snapshot solution set: %w", err)
	}
	out := make(map[K]ptypes.SolutionEntry[VV], len(docs))
	for _, d := range docs {
		var k K
		idBytes, err := hex.DecodeString(d.ID)
		if err != nil {
			return nil, err
		}
		if err := gobDecode(idBytes, &k); err != nil {
			return nil, err
		}
		var v ptypes.SolutionEntry[VV]
		if err := gobDecode(d.Value, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

var _ logstore.SolutionSetLog[string, int] = (*SolutionSetLog[string, int])(nil)

// workSetDoc is one entry in the append-only workSet collection. Seq is
// assigned by the caller under the log's mutex, acting as the Mongo
// analogue of a Kafka partition offset.
type workSetDoc struct {
	Partition int    `bson:"partition"`
	Seq       int64  `bson:"seq"`
	Value     []byte `bson:"value"`
}

// WorkSetLog is a MongoDB-backed logstore.WorkSetLog: an append-only,
// partition-tagged collection, with per-partition consumer positions
// tracked locally. Each partition is owned by exactly one worker task,
// so a single local position is sufficient and no separate offsets
// collection is needed.
type WorkSetLog[K comparable, Msg any] struct {
	coll        *mgo.Collection
	partitionOf logstore.PartitionFunc[K]

	mu       sync.Mutex
	nextSeq  map[int]int64
	position map[int]int64
}

func NewWorkSetLog[K comparable, Msg any](session *mgo.Session, dbName, collection string, partitionOf logstore.PartitionFunc[K]) *WorkSetLog[K, Msg] {
	return &WorkSetLog[K, Msg]{
		coll:        session.DB(dbName).C(collection),
		partitionOf: partitionOf,
		nextSeq:     make(map[int]int64),
		position:    make(map[int]int64),
	}
}

func (l *WorkSetLog[K, Msg]) Publish(_ context.Context, entry ptypes.WorkSetEntry[K, Msg]) error {
	p := l.partitionOf(entry.Dst)
	val, err := gobBytes(entry)
	if err != nil {
		return err
	}
	l.mu.Lock()
	seq := l.nextSeq[p]
	l.nextSeq[p] = seq + 1
	l.mu.Unlock()

	if err := l.coll.Insert(workSetDoc{Partition: p, Seq: seq, Value: val}); err != nil {
		return fmt.Errorf("mongolog: publish workset entry: %w", err)
	}
	return nil
}

func (l *WorkSetLog[K, Msg]) Poll(_ context.Context, partition int) ([]ptypes.WorkSetEntry[K, Msg], error) {
	l.mu.Lock()
	pos := l.position[partition]
	l.mu.Unlock()

	var docs []workSetDoc
	err := l.coll.Find(bson.M{"partition": partition, "seq": bson.M{"$gte": pos}}).Sort("seq").All(&docs)
	if err != nil {
		return nil, fmt.Errorf("mongolog: poll workset: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]ptypes.WorkSetEntry[K, Msg], 0, len(docs))
	maxSeq := pos
	for _, d := range docs {
		var e ptypes.WorkSetEntry[K, Msg]
		if err := gobDecode(d.Value, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
		if d.Seq+1 > maxSeq {
			maxSeq = d.Seq + 1
		}
	}
	l.mu.Lock()
	l.position[partition] = maxSeq
	l.mu.Unlock()
	return out, nil
}

func (l *WorkSetLog[K, Msg]) IsSynced(_ context.Context, partition int) (bool, error) {
	l.mu.Lock()
	pos := l.position[partition]
	l.mu.Unlock()
	n, err := l.coll.Find(bson.M{"partition": partition}).Count()
	if err != nil {
		return false, fmt.Errorf("mongolog: sync check: %w", err)
	}
	return int64(n) == pos, nil
}

var _ logstore.WorkSetLog[string, int] = (*WorkSetLog[string, int])(nil)
