package logstore

import (
	"context"
	"sync"

	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// PartitionFunc computes the partition owning key, matching the engine's
// partition.Router. logstore stays free of a dependency on package pregel
// so the partitioning behaviour is injected rather than imported.
type PartitionFunc[K comparable] func(K) int

// MemoryVertexLog is an in-memory VertexLog, suitable for tests and
// single-process runs. Load populates it; production deployments would
// instead back this with mongolog.VertexLog.
type MemoryVertexLog[K comparable, VV any] struct {
	mu     sync.RWMutex
	values map[K]VV
}

func NewMemoryVertexLog[K comparable, VV any]() *MemoryVertexLog[K, VV] {
	return &MemoryVertexLog[K, VV]{values: make(map[K]VV)}
}

// Load seeds the log with the initial vertex table.
func (l *MemoryVertexLog[K, VV]) Load(vertices map[K]VV) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range vertices {
		l.values[k] = v
	}
}

func (l *MemoryVertexLog[K, VV]) Snapshot(context.Context) (map[K]VV, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[K]VV, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out, nil
}

// MemoryEdgeLog is an in-memory EdgeLog.
type MemoryEdgeLog[K comparable, EV any] struct {
	mu    sync.RWMutex
	edges map[K][]ptypes.EdgeWithValue[K, EV]
}

func NewMemoryEdgeLog[K comparable, EV any]() *MemoryEdgeLog[K, EV] {
	return &MemoryEdgeLog[K, EV]{edges: make(map[K][]ptypes.EdgeWithValue[K, EV])}
}

// Load seeds the log with the initial grouped-by-source edge table.
func (l *MemoryEdgeLog[K, EV]) Load(edges map[K][]ptypes.EdgeWithValue[K, EV]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range edges {
		l.edges[k] = v
	}
}

func (l *MemoryEdgeLog[K, EV]) Edges(_ context.Context, key K) ([]ptypes.EdgeWithValue[K, EV], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edges[key], nil
}

// MemorySolutionSetLog is an in-memory SolutionSetLog. Publish is
// idempotent: publishing an identical entry twice leaves the snapshot
// unchanged.
type MemorySolutionSetLog[K comparable, VV any] struct {
	mu      sync.RWMutex
	entries map[K]ptypes.SolutionEntry[VV]
}

func NewMemorySolutionSetLog[K comparable, VV any]() *MemorySolutionSetLog[K, VV] {
	return &MemorySolutionSetLog[K, VV]{entries: make(map[K]ptypes.SolutionEntry[VV])}
}

func (l *MemorySolutionSetLog[K, VV]) Publish(_ context.Context, key K, entry ptypes.SolutionEntry[VV]) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = entry
	return nil
}

func (l *MemorySolutionSetLog[K, VV]) Snapshot(context.Context) (map[K]ptypes.SolutionEntry[VV], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[K]ptypes.SolutionEntry[VV], len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out, nil
}

// MemoryWorkSetLog is an in-memory, partitioned WorkSetLog. Each
// partition is an append-only slice; Poll drains everything appended
// since the partition's last Poll call, mirroring a Kafka consumer
// advancing its position to the log's current end offset.
type MemoryWorkSetLog[K comparable, Msg any] struct {
	partitionOf PartitionFunc[K]

	mu       sync.Mutex
	entries  map[int][]ptypes.WorkSetEntry[K, Msg]
	position map[int]int
}

func NewMemoryWorkSetLog[K comparable, Msg any](partitionOf PartitionFunc[K]) *MemoryWorkSetLog[K, Msg] {
	return &MemoryWorkSetLog[K, Msg]{
		partitionOf: partitionOf,
		entries:     make(map[int][]ptypes.WorkSetEntry[K, Msg]),
		position:    make(map[int]int),
	}
}

func (l *MemoryWorkSetLog[K, Msg]) Publish(_ context.Context, entry ptypes.WorkSetEntry[K, Msg]) error {
	p := l.partitionOf(entry.Dst)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[p] = append(l.entries[p], entry)
	return nil
}

func (l *MemoryWorkSetLog[K, Msg]) Poll(_ context.Context, partition int) ([]ptypes.WorkSetEntry[K, Msg], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	all := l.entries[partition]
	pos := l.position[partition]
	if pos >= len(all) {
		return nil, nil
	}
	out := make([]ptypes.WorkSetEntry[K, Msg], len(all)-pos)
	copy(out, all[pos:])
	l.position[partition] = len(all)
	return out, nil
}

func (l *MemoryWorkSetLog[K, Msg]) IsSynced(_ context.Context, partition int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position[partition] == len(l.entries[partition]), nil
}
