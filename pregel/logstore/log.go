// Package logstore defines the durable, partitioned, log-backed streams
// the Pregel engine reads and writes: the compacted vertices,
// edgesGroupedBySource and solutionSet logs, and the log-retention
// workSet stream. The durable log itself is an external collaborator;
// this package defines the narrow interface the engine needs and ships
// two implementations: an in-memory one for tests and single-process
// runs, and a MongoDB-backed one (package mongolog) for multi-process
// deployments, built on gopkg.in/mgo.v2 double-buffered checkpoint
// collections.
package logstore

import (
	"context"

	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// VertexLog is the compacted K -> VV source-of-truth for initial vertex
// values.
type VertexLog[K comparable, VV any] interface {
	// Snapshot materialises the entire compacted log as of now. Unlike
	// WorkSetLog, a VertexLog handle holds no local consumer position
	// that Snapshot could lag behind: every call reads the log's
	// current state directly, so there is no separate readiness check
	// to perform before trusting it.
	Snapshot(ctx context.Context) (map[K]VV, error)
}

// EdgeLog is the compacted K -> []EdgeWithValue[K,EV] source-of-truth for
// outgoing edges, grouped by source vertex.
type EdgeLog[K comparable, EV any] interface {
	// Edges returns key's outgoing edges, or nil if key has none. A nil
	// result is not an error: sink vertices still run compute. Like
	// VertexLog.Snapshot, this reads the log directly on every call, so
	// there is no local position that can drift out of sync.
	Edges(ctx context.Context, key K) ([]ptypes.EdgeWithValue[K, EV], error)
}

// SolutionSetLog is the compacted, authoritative table of current vertex
// values, keyed by vertex and double-buffered as SolutionEntry.
type SolutionSetLog[K comparable, VV any] interface {
	// Publish appends a solution-set delta. Deltas are idempotent:
	// publishing the same (key, entry) twice, as happens after a
	// late-message re-forward, must not corrupt the log.
	Publish(ctx context.Context, key K, entry ptypes.SolutionEntry[VV]) error
	// Snapshot materialises the entire compacted log as of now; used by
	// the driver's Result().
	Snapshot(ctx context.Context) (map[K]ptypes.SolutionEntry[VV], error)
}

// WorkSetLog is the log-retention stream of in-flight messages, keyed by
// destination vertex, partitioned the same way the router partitions
// vertex keys.
type WorkSetLog[K comparable, Msg any] interface {
	// Publish durably appends entry, routed to the partition owning
	// entry.Dst. It blocks until the write is durably acknowledged,
	// which is the happens-before edge the dispatcher relies on between
	// "message durably enqueued" and "partition marker written".
	Publish(ctx context.Context, entry ptypes.WorkSetEntry[K, Msg]) error
	// Poll drains entries newly available for partition since this
	// handle's last Poll call on that partition, advancing the local
	// consumer position. It never blocks past ctx's deadline and may
	// return an empty slice.
	Poll(ctx context.Context, partition int) ([]ptypes.WorkSetEntry[K, Msg], error)
	// IsSynced reports whether this handle's local consumer position for
	// partition equals the log's current end offset for that partition.
	// Callers use this to guard forwarding against messages still in
	// flight.
	IsSynced(ctx context.Context, partition int) (bool, error)
}
