package pregel

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anujsrc/kafka-graphs/pregel/coordination"
	"github.com/anujsrc/kafka-graphs/pregel/localstore"
	"github.com/anujsrc/kafka-graphs/pregel/logstore"
	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// BarrierRoot is the root path under which every Driver keeps its worker
// group, leader latch, shared PregelState and barrier tree. It is not
// configurable, so every Driver pointed at the same coordination store
// shares one barrier tree.
const BarrierRoot = "/pregel"

// Driver runs one Pregel computation to completion on this process. It
// owns the coordination handles, the durable logs and every partition
// this worker is responsible for. A multi-worker deployment runs one
// Driver per worker process, each constructed with a disjoint Partitions
// slice and pointed at the same coordination store and durable logs.
type Driver[K comparable, VV, EV, Msg any] struct {
	WorkerID      string
	NumPartitions int
	Partitions    []int
	MaxIterations int32

	Router      Router[K]
	VertexLog   logstore.VertexLog[K, VV]
	EdgeLog     logstore.EdgeLog[K, EV]
	SolutionLog logstore.SolutionSetLog[K, VV]
	WorkLog     logstore.WorkSetLog[K, Msg]
	Store       localstore.Store[K, Msg, VV]
	Compute     ComputeFunction[K, VV, EV, Msg]
	Gateway     coordination.Gateway

	// Telemetry tags this worker's barrier-advancement events with a
	// GoVector vector clock. Prepare constructs one automatically from
	// WorkerID if left nil.
	Telemetry *Telemetry

	vertexValues map[K]VV
	dispatcher   *Dispatcher[K, VV, EV, Msg]
	sync         *BarrierSynchronizer
	membership   coordination.Membership
	leader       coordination.LeaderLatch
	shared       coordination.SharedValue
	tree         coordination.BarrierTree
}

// Prepare joins the worker group, contends for leadership, opens the
// shared state and barrier tree, snapshots the current vertex table and
// seeds the work-set log with one zero-message entry per vertex routed to
// one of this worker's Partitions, so that every such vertex runs compute
// at superstep 0 even if it has no incoming edges pointed at it yet.
func (d *Driver[K, VV, EV, Msg]) Prepare(ctx context.Context, now time.Time) error {
	if d.Telemetry == nil {
		d.Telemetry = NewTelemetry(d.WorkerID)
	}

	membership, err := d.Gateway.JoinGroup(ctx, BarrierRoot+"/workers", d.WorkerID)
	if err != nil {
		return &CoordinationError{Op: "join-group", Err: err}
	}
	d.membership = membership

	leader, err := d.Gateway.ElectLeader(ctx, BarrierRoot+"/leader")
	if err != nil {
		return &CoordinationError{Op: "elect-leader", Err: err}
	}
	d.leader = leader

	shared, err := d.Gateway.SharedValue(ctx, BarrierRoot+"/state", EncodeState(NewState(now)))
	if err != nil {
		return &CoordinationError{Op: "open-shared-state", Err: err}
	}
	d.shared = shared

	tree, err := d.Gateway.BarrierTree(ctx, BarrierRoot)
	if err != nil {
		return &CoordinationError{Op: "open-barrier-tree", Err: err}
	}
	d.tree = tree

	d.sync = &BarrierSynchronizer{Shared: d.shared, Tree: d.tree, Leader: d.leader, Membership: d.membership, Telemetry: d.Telemetry}
	if d.leader.HasLeadership() {
		if err := d.sync.Initialize(ctx, now); err != nil {
			return err
		}
	}

	vertices, err := d.VertexLog.Snapshot(ctx)
	if err != nil {
		return &LogError{Topic: "vertices", Op: "snapshot", Err: err}
	}
	d.vertexValues = vertices

	tasks := make(map[int]*PartitionTask[K, VV, EV, Msg], len(d.Partitions))
	for _, p := range d.Partitions {
		tasks[p] = &PartitionTask[K, VV, EV, Msg]{
			Partition:   p,
			Router:      d.Router,
			VertexEdges: d.EdgeLog,
			SolutionLog: d.SolutionLog,
			WorkLog:     d.WorkLog,
			Store:       d.Store,
			Compute:     d.Compute,
		}
	}
	d.dispatcher = &Dispatcher[K, VV, EV, Msg]{WorkerID: d.WorkerID, Tree: d.tree, Tasks: tasks}

	seeded := make(map[int]bool, len(d.Partitions))
	for key := range vertices {
		owner, err := d.Router.PartitionOf(key)
		if err != nil {
			return fmt.Errorf("pregel: route seed vertex %v: %w", key, err)
		}
		if _, owned := tasks[owner]; !owned {
			continue
		}
		seed := ptypes.WorkSetEntry[K, Msg]{Superstep: 0, Dst: key, Src: key, HasMsg: false}
		if err := d.WorkLog.Publish(ctx, seed); err != nil {
			return &LogError{Topic: "workSet", Op: "seed", Err: err}
		}
		seeded[owner] = true
	}

	// Seed a partition-<p> marker at (0, SEND) for every partition that
	// just received seeded vertices, so step 0 has something for the
	// barrier to drain even before any worker has ticked once.
	for p := range seeded {
		if err := d.tree.AddChild(ctx, 0, coordination.Send, partitionChildName(p), true); err != nil {
			return &CoordinationError{Op: "seed-send-marker", Err: err}
		}
	}
	return nil
}

// Run drives the RECEIVE/SEND loop to completion: it alternates between
// buffering newly published messages and forwarding pending
// destinations to compute, attesting readiness through the barrier tree
// at every step, until the coordination store reports the run Completed.
// Only the leader writes that state: after a SEND phase in which its own
// partitions forwarded nothing, or once the next superstep reaches
// MaxIterations.
func (d *Driver[K, VV, EV, Msg]) Run(ctx context.Context) (State, error) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		cur, err := d.sync.Current(ctx)
		if err != nil {
			return State{}, err
		}
		if cur.Lifecycle == Completed {
			return cur, nil
		}

		d.Telemetry.LogLocalEvent(fmt.Sprintf("tick-%s", cur))

		g, gctx := errgroup.WithContext(ctx)
		var forwarded int
		switch cur.Stage {
		case Receive:
			g.Go(func() error {
				synced, err := d.dispatcher.BufferAll(gctx, cur.Superstep)
				if err != nil {
					return err
				}
				if synced {
					return d.dispatcher.AttestReceiveSynced(gctx, cur.Superstep)
				}
				return nil
			})
		case Send:
			g.Go(func() error {
				n, err := d.dispatcher.RunSend(gctx, cur.Superstep, d.vertexValues)
				if err != nil {
					return err
				}
				forwarded = n
				return d.dispatcher.AttestSendComplete(gctx, cur.Superstep)
			})
		}
		if err := g.Wait(); err != nil {
			return State{}, err
		}

		if d.leader.HasLeadership() {
			advanced, next, err := d.sync.TryAdvance(ctx)
			if err != nil {
				return State{}, err
			}
			if advanced && next.Stage == Receive {
				if err := d.dispatcher.GCStep(ctx, next.Superstep-1); err != nil {
					return State{}, err
				}
				// No vertex had anything left to forward this step: the
				// computation has converged and will stay idle forever,
				// so there is no point waiting for MaxIterations.
				if forwarded == 0 {
					d.Telemetry.LogLocalEvent("converged")
					return d.sync.Complete(ctx, time.Now())
				}
				if d.MaxIterations > 0 && next.Superstep >= d.MaxIterations {
					d.Telemetry.LogLocalEvent("max-iterations-reached")
					return d.sync.Complete(ctx, time.Now())
				}
			}
		}

		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// State returns the current replicated PregelState.
func (d *Driver[K, VV, EV, Msg]) State(ctx context.Context) (State, error) {
	return d.sync.Current(ctx)
}

// Result snapshots the current solution set: every vertex's latest
// computed (or seeded, if never computed) value.
func (d *Driver[K, VV, EV, Msg]) Result(ctx context.Context) (map[K]VV, error) {
	entries, err := d.SolutionLog.Snapshot(ctx)
	if err != nil {
		return nil, &LogError{Topic: "solutionSet", Op: "snapshot", Err: err}
	}
	out := make(map[K]VV, len(d.vertexValues))
	for k, v := range d.vertexValues {
		out[k] = v
	}
	for k, e := range entries {
		out[k] = e.CurValue
	}
	return out, nil
}

// Vertices returns the initial vertex table this run was prepared with.
func (d *Driver[K, VV, EV, Msg]) Vertices() map[K]VV {
	out := make(map[K]VV, len(d.vertexValues))
	for k, v := range d.vertexValues {
		out[k] = v
	}
	return out
}

// Close releases this driver's coordination resources.
func (d *Driver[K, VV, EV, Msg]) Close() error {
	if d.membership != nil {
		_ = d.membership.Leave()
	}
	if d.leader != nil {
		_ = d.leader.Close()
	}
	if d.shared != nil {
		_ = d.shared.Close()
	}
	if d.tree != nil {
		_ = d.tree.Close()
	}
	return nil
}
