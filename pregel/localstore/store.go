// Package localstore holds the worker-local, ephemeral state each
// partition task keeps: the per-superstep inbox, the forwarded-vertex
// set and the active set, plus a local materialised view of the
// solution set. All of it is reconstructible by replaying the work-set
// log from the start of the current superstep, so losing it on crash
// loses no data.
package localstore

import (
	"context"

	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// Store is the worker-local state a single partition task needs to run
// the work-set pipeline and report readiness to the barrier
// synchronizer.
type Store[K comparable, Msg, VV any] interface {
	// BufferMessage ensures dst appears in inbox[step], and if hasMsg
	// also sets inbox[step][dst][src] = msg. A call with hasMsg=false is
	// how the initial seeding step marks a vertex pending despite having
	// no real message for it. If dst had already been forwarded at
	// step, this un-marks it — a late-arriving message invalidates the
	// prior forward.
	BufferMessage(ctx context.Context, step int32, dst, src K, msg Msg, hasMsg bool) error

	// Inbox returns the current inbox[step][dst] map. A nil or empty map
	// (rather than an error) is returned if dst has received no messages
	// at step.
	Inbox(ctx context.Context, step int32, dst K) (map[K]Msg, error)

	// PendingDestinations returns every destination with buffered
	// messages at step that has not yet been marked forwarded.
	PendingDestinations(ctx context.Context, step int32) ([]K, error)

	// MarkForwarded records dst as forwarded at step.
	MarkForwarded(ctx context.Context, step int32, dst K) error

	// ActivateVertex adds dst to the active set for (step, partition).
	ActivateVertex(ctx context.Context, step int32, partition int, dst K) error

	// DeactivateVertex removes dst from the active set for
	// (step, partition) and reports whether that partition's active set
	// is now empty, which is what lets the dispatcher clear the
	// partition's barrier-tree marker.
	DeactivateVertex(ctx context.Context, step int32, partition int, dst K) (empty bool, err error)

	// ActiveCount reports the size of the active set for
	// (step, partition); the dispatcher uses it to decide when to clear
	// the partition's barrier-tree marker.
	ActiveCount(ctx context.Context, step int32, partition int) (int, error)

	// GetSolution returns the local materialised solution-set entry for
	// dst, or ok=false if this worker has never computed or synthesised
	// one.
	GetSolution(ctx context.Context, dst K) (entry ptypes.SolutionEntry[VV], ok bool, err error)

	// PutSolution stores dst's local solution-set entry.
	PutSolution(ctx context.Context, dst K, entry ptypes.SolutionEntry[VV]) error

	// GC atomically discards inbox[step], the forwarded set for step and
	// the active set for step, once SEND of step has completed.
	GC(ctx context.Context, step int32) error
}
