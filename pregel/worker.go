package pregel

import (
	"context"
	"fmt"
	"log"

	"github.com/anujsrc/kafka-graphs/pregel/localstore"
	"github.com/anujsrc/kafka-graphs/pregel/logstore"
	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// PartitionTask runs the work-set pipeline for one partition: it drains
// newly published messages into the local inbox, forwards pending
// destinations to the user compute function, and dispatches the
// resulting outgoing messages back onto the work-set log for the next
// superstep. One PartitionTask exists per partition owned by this
// worker process; workers own disjoint partitions, so no two tasks ever
// touch the same key.
type PartitionTask[K comparable, VV, EV, Msg any] struct {
	Partition int

	Router      Router[K]
	VertexEdges logstore.EdgeLog[K, EV]
	SolutionLog logstore.SolutionSetLog[K, VV]
	WorkLog     logstore.WorkSetLog[K, Msg]
	Store       localstore.Store[K, Msg, VV]
	Compute     ComputeFunction[K, VV, EV, Msg]

	cb Callback[K, VV, Msg]
}

// Buffer drains every work-set entry published for this partition and
// upserts it into the local inbox under the entry's own superstep,
// invalidating any prior forward for a destination that just received a
// late message. It is safe to call repeatedly; entries already buffered
// are not re-delivered because Poll advances the work-set log's local
// consumer position.
func (t *PartitionTask[K, VV, EV, Msg]) Buffer(ctx context.Context, step int32) error {
	entries, err := t.WorkLog.Poll(ctx, t.Partition)
	if err != nil {
		return &LogError{Topic: "workSet", Op: "poll", Err: err}
	}
	for _, e := range entries {
		if err := t.Store.BufferMessage(ctx, e.Superstep, e.Dst, e.Src, e.Msg, e.HasMsg); err != nil {
			return &LogError{Topic: "workSet", Op: "buffer", Err: err}
		}
	}
	return nil
}

// Synced reports whether every message published to this partition for
// or before step has been drained into the local inbox. The barrier
// synchronizer gates forwarding on this to avoid computing a vertex
// before all of its messages for the superstep have arrived.
func (t *PartitionTask[K, VV, EV, Msg]) Synced(ctx context.Context) (bool, error) {
	synced, err := t.WorkLog.IsSynced(ctx, t.Partition)
	if err != nil {
		return false, &LogError{Topic: "workSet", Op: "sync-check", Err: err}
	}
	return synced, nil
}

// Forward marks every pending destination in this partition's inbox as
// forwarded, adds it to the active set, and runs compute on it,
// dispatching any resulting outgoing messages. It returns the number of
// vertices it forwarded, which Driver.Run uses to detect convergence.
func (t *PartitionTask[K, VV, EV, Msg]) Forward(ctx context.Context, step int32, vertexValues map[K]VV) (int, error) {
	pending, err := t.Store.PendingDestinations(ctx, step)
	if err != nil {
		return 0, fmt.Errorf("pregel: list pending destinations: %w", err)
	}
	for _, dst := range pending {
		if err := t.Store.MarkForwarded(ctx, step, dst); err != nil {
			return 0, fmt.Errorf("pregel: mark forwarded: %w", err)
		}
		if err := t.Store.ActivateVertex(ctx, step, t.Partition, dst); err != nil {
			return 0, fmt.Errorf("pregel: activate vertex: %w", err)
		}
		if err := t.computeOne(ctx, step, dst, vertexValues[dst]); err != nil {
			return 0, err
		}
		empty, err := t.Store.DeactivateVertex(ctx, step, t.Partition, dst)
		if err != nil {
			return 0, fmt.Errorf("pregel: deactivate vertex: %w", err)
		}
		_ = empty // partition-level barrier bookkeeping is done by the caller, which reads ActiveCount after Forward returns
	}
	return len(pending), nil
}

func (t *PartitionTask[K, VV, EV, Msg]) computeOne(ctx context.Context, step int32, dst K, initialValue VV) error {
	incoming, err := t.Store.Inbox(ctx, step, dst)
	if err != nil {
		return fmt.Errorf("pregel: read inbox for %v: %w", dst, err)
	}
	edges, err := t.VertexEdges.Edges(ctx, dst)
	if err != nil {
		return &LogError{Topic: "edgesGroupedBySource", Op: "read", Err: err}
	}

	prev, hasPrev, err := t.Store.GetSolution(ctx, dst)
	if err != nil {
		return fmt.Errorf("pregel: read local solution entry for %v: %w", dst, err)
	}
	current := initialValue
	if hasPrev {
		current = prev.ValueAt(step)
	}

	vertex := ptypes.VertexWithValue[K, VV]{Key: dst, Value: current}
	t.cb.reset()
	if err := t.Compute.Compute(step, vertex, incoming, edges, &t.cb); err != nil {
		cerr := &UserComputeError{Vertex: dst, Superstep: step, Err: err}
		log.Printf("%v", cerr)
		return cerr
	}

	// A compute that produces no new value leaves the solution entry
	// untouched: no store write, no delta publish.
	if t.cb.hasNewValue {
		entry := ptypes.SolutionEntry[VV]{
			PrevStep:  step,
			PrevValue: current,
			CurStep:   step + 1,
			CurValue:  t.cb.newValue,
		}
		if err := t.Store.PutSolution(ctx, dst, entry); err != nil {
			return fmt.Errorf("pregel: write local solution entry for %v: %w", dst, err)
		}
		if err := t.SolutionLog.Publish(ctx, dst, entry); err != nil {
			return &LogError{Topic: "solutionSet", Op: "publish", Err: err}
		}
	}

	for to, msg := range t.cb.outgoing {
		partition, err := t.Router.PartitionOf(to)
		if err != nil {
			return fmt.Errorf("pregel: route message to %v: %w", to, err)
		}
		out := ptypes.WorkSetEntry[K, Msg]{Superstep: step + 1, Dst: to, Src: dst, Msg: msg, HasMsg: true}
		if err := t.WorkLog.Publish(ctx, out); err != nil {
			return &LogError{Topic: "workSet", Op: "publish", Err: err}
		}
		_ = partition // routing already happened inside WorkLog.Publish via its own PartitionFunc; kept here for clarity of intent
	}
	return nil
}

// GC discards this partition's inbox and forwarded-set entries for step
// once SEND has completed and every downstream message has been durably
// published.
func (t *PartitionTask[K, VV, EV, Msg]) GC(ctx context.Context, step int32) error {
	return t.Store.GC(ctx, step)
}
