package pregel

import (
	"context"
	"testing"
	"time"

	"github.com/anujsrc/kafka-graphs/pregel/coordination"
	"github.com/anujsrc/kafka-graphs/pregel/localstore"
	"github.com/anujsrc/kafka-graphs/pregel/logstore"
	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

// newMultiDriverFixture wires numWorkers real Drivers against one shared
// coordination.InMemoryStore and one shared set of in-memory logs,
// partitioned disjointly the same way cmd/pregel-worker/main.go's
// runCluster partitions numWorkers independent processes, so these
// tests exercise genuine multi-worker group dynamics rather than a
// single Driver owning every partition.
func newMultiDriverFixture[K comparable, VV, EV, Msg any](
	t *testing.T,
	numWorkers, numPartitions int,
	vertices map[K]VV,
	edges map[K][]ptypes.EdgeWithValue[K, EV],
	compute ComputeFunction[K, VV, EV, Msg],
	maxIterations int32,
) []*Driver[K, VV, EV, Msg] {
	t.Helper()

	router := NewRouter[K](numPartitions)
	vlog := logstore.NewMemoryVertexLog[K, VV]()
	vlog.Load(vertices)
	elog := logstore.NewMemoryEdgeLog[K, EV]()
	elog.Load(edges)
	slog := logstore.NewMemorySolutionSetLog[K, VV]()
	wlog := logstore.NewMemoryWorkSetLog[K, Msg](func(k K) int {
		p, err := router.PartitionOf(k)
		if err != nil {
			t.Fatalf("PartitionOf: %v", err)
		}
		return p
	})
	store := coordination.NewInMemoryStore()

	drivers := make([]*Driver[K, VV, EV, Msg], numWorkers)
	for w := 0; w < numWorkers; w++ {
		var partitions []int
		for p := 0; p < numPartitions; p++ {
			if p%numWorkers == w {
				partitions = append(partitions, p)
			}
		}
		drivers[w] = &Driver[K, VV, EV, Msg]{
			WorkerID:      workerLabel(w),
			NumPartitions: numPartitions,
			Partitions:    partitions,
			MaxIterations: maxIterations,
			Router:        router,
			VertexLog:     vlog,
			EdgeLog:       elog,
			SolutionLog:   slog,
			WorkLog:       wlog,
			Store:         localstore.NewMemoryStore[K, Msg, VV](),
			Compute:       compute,
			Gateway:       store.Gateway(),
		}
	}
	return drivers
}

func workerLabel(w int) string {
	return string(rune('a' + w))
}

// TestTwoWorkersDisjointPartitionsConverge covers the boundary scenario
// of two disjoint components, {A,B} and {C,D}, routed across four
// partitions with only two real workers. Each worker owns half the
// partitions; a partition with no vertices routed to it must never pick
// up a SEND barrier marker, and the run must still converge to the
// correct per-component result.
func TestTwoWorkersDisjointPartitionsConverge(t *testing.T) {
	ctx := context.Background()
	edges := map[string][]ptypes.EdgeWithValue[string, int]{
		"A": {{Dst: "B"}},
		"C": {{Dst: "D"}},
	}
	compute := ComputeFunc[string, int, int, int](
		func(superstep int32, vertex ptypes.VertexWithValue[string, int], incoming map[string]int, edges []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			val := vertex.Value
			for _, m := range incoming {
				val += m
			}
			cb.SetNewVertexValue(val)
			if superstep == 0 {
				for _, e := range edges {
					cb.SendMessageTo(e.Dst, 1)
				}
			}
			return nil
		},
	)
	drivers := newMultiDriverFixture[string, int, int, int](t, 2, 4,
		map[string]int{"A": 0, "B": 0, "C": 0, "D": 0},
		edges,
		compute,
		10,
	)
	w0, w1 := drivers[0], drivers[1]

	now := time.Now()
	if err := w0.Prepare(ctx, now); err != nil {
		t.Fatalf("w0.Prepare: %v", err)
	}
	if err := w1.Prepare(ctx, now); err != nil {
		t.Fatalf("w1.Prepare: %v", err)
	}
	defer w0.Close()
	defer w1.Close()

	// Every partition that was never assigned a vertex must never have
	// picked up a SEND marker during seeding; every partition that was
	// must have one right now, before any tick has run.
	router := w0.Router
	occupied := make(map[int]bool, 4)
	for _, k := range []string{"A", "B", "C", "D"} {
		p, err := router.PartitionOf(k)
		if err != nil {
			t.Fatalf("PartitionOf(%s): %v", k, err)
		}
		occupied[p] = true
	}
	for p := 0; p < 4; p++ {
		has, err := w0.tree.HasChild(ctx, 0, coordination.Send, partitionChildName(p))
		if err != nil {
			t.Fatalf("HasChild(partition-%d): %v", p, err)
		}
		if has != occupied[p] {
			t.Fatalf("HasChild(partition-%d) = %v, want %v (occupied=%v)", p, has, occupied[p], occupied)
		}
	}

	// Drive RECEIVE(0) on both workers, then SEND(0): A and C each send
	// one message along their outgoing edge.
	for _, d := range drivers {
		synced, err := d.dispatcher.BufferAll(ctx, 0)
		if err != nil {
			t.Fatalf("BufferAll(0): %v", err)
		}
		if !synced {
			t.Fatalf("BufferAll(0) not synced")
		}
		if err := d.dispatcher.AttestReceiveSynced(ctx, 0); err != nil {
			t.Fatalf("AttestReceiveSynced(0): %v", err)
		}
	}
	advanced, next, err := w0.sync.TryAdvance(ctx)
	if err != nil {
		t.Fatalf("TryAdvance RECEIVE(0)->SEND(0): %v", err)
	}
	if !advanced || next.Stage != Send || next.Superstep != 0 {
		t.Fatalf("TryAdvance = %v, %v, want advance to SEND(0)", advanced, next)
	}
	for _, d := range drivers {
		if _, err := d.dispatcher.RunSend(ctx, 0, d.vertexValues); err != nil {
			t.Fatalf("RunSend(0): %v", err)
		}
		if err := d.dispatcher.AttestSendComplete(ctx, 0); err != nil {
			t.Fatalf("AttestSendComplete(0): %v", err)
		}
	}
	advanced, next, err = w0.sync.TryAdvance(ctx)
	if err != nil {
		t.Fatalf("TryAdvance SEND(0)->RECEIVE(1): %v", err)
	}
	if !advanced || next.Stage != Receive || next.Superstep != 1 {
		t.Fatalf("TryAdvance = %v, %v, want advance to RECEIVE(1)", advanced, next)
	}
	for _, d := range drivers {
		if err := d.dispatcher.GCStep(ctx, 0); err != nil {
			t.Fatalf("GCStep(0): %v", err)
		}
	}

	// RECEIVE(1): B and D each have a message buffered from A and C.
	for _, d := range drivers {
		synced, err := d.dispatcher.BufferAll(ctx, 1)
		if err != nil {
			t.Fatalf("BufferAll(1): %v", err)
		}
		if !synced {
			t.Fatalf("BufferAll(1) not synced")
		}
		if err := d.dispatcher.AttestReceiveSynced(ctx, 1); err != nil {
			t.Fatalf("AttestReceiveSynced(1): %v", err)
		}
	}
	advanced, next, err = w0.sync.TryAdvance(ctx)
	if err != nil {
		t.Fatalf("TryAdvance RECEIVE(1)->SEND(1): %v", err)
	}
	if !advanced || next.Stage != Send || next.Superstep != 1 {
		t.Fatalf("TryAdvance = %v, %v, want advance to SEND(1)", advanced, next)
	}
	for _, d := range drivers {
		if _, err := d.dispatcher.RunSend(ctx, 1, d.vertexValues); err != nil {
			t.Fatalf("RunSend(1): %v", err)
		}
		if err := d.dispatcher.AttestSendComplete(ctx, 1); err != nil {
			t.Fatalf("AttestSendComplete(1): %v", err)
		}
	}
	advanced, next, err = w0.sync.TryAdvance(ctx)
	if err != nil {
		t.Fatalf("TryAdvance SEND(1)->RECEIVE(2): %v", err)
	}
	if !advanced || next.Stage != Receive || next.Superstep != 2 {
		t.Fatalf("TryAdvance = %v, %v, want advance to RECEIVE(2)", advanced, next)
	}

	// Nothing is pending at superstep 2 on either worker: the
	// computation has converged.
	for _, d := range drivers {
		synced, err := d.dispatcher.BufferAll(ctx, 2)
		if err != nil {
			t.Fatalf("BufferAll(2): %v", err)
		}
		if !synced {
			t.Fatalf("BufferAll(2) not synced")
		}
	}
	if _, err := w0.sync.Complete(ctx, time.Now()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	result, err := w0.Result(ctx)
	if err != nil {
		t.Fatalf("w0.Result: %v", err)
	}
	if result["A"] != 0 || result["B"] != 1 || result["C"] != 0 || result["D"] != 1 {
		t.Fatalf("Result = %v, want A=0, B=1, C=0, D=1", result)
	}
}

// TestLeaderCrashMidSendElectsNewLeaderAndConverges covers the leader
// crash boundary scenario: the leader completes its own SEND duty for a
// step, then crashes before the rest of the group has attested. A new
// leader is elected from the survivors, observes the barrier tree state
// left behind, and carries the computation to the same result a
// no-crash run would reach.
func TestLeaderCrashMidSendElectsNewLeaderAndConverges(t *testing.T) {
	ctx := context.Background()
	compute := ComputeFunc[string, int, int, int](
		func(_ int32, vertex ptypes.VertexWithValue[string, int], _ map[string]int, _ []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			cb.SetNewVertexValue(vertex.Value + 1)
			return nil
		},
	)
	drivers := newMultiDriverFixture[string, int, int, int](t, 2, 2,
		map[string]int{"A": 0, "B": 0},
		nil,
		compute,
		10,
	)
	leader, follower := drivers[0], drivers[1]

	now := time.Now()
	if err := leader.Prepare(ctx, now); err != nil {
		t.Fatalf("leader.Prepare: %v", err)
	}
	if err := follower.Prepare(ctx, now); err != nil {
		t.Fatalf("follower.Prepare: %v", err)
	}
	if !leader.leader.HasLeadership() {
		t.Fatalf("leader did not win the initial election")
	}
	if follower.leader.HasLeadership() {
		t.Fatalf("follower unexpectedly holds leadership before the crash")
	}

	for _, d := range drivers {
		synced, err := d.dispatcher.BufferAll(ctx, 0)
		if err != nil {
			t.Fatalf("BufferAll(0): %v", err)
		}
		if !synced {
			t.Fatalf("BufferAll(0) not synced")
		}
		if err := d.dispatcher.AttestReceiveSynced(ctx, 0); err != nil {
			t.Fatalf("AttestReceiveSynced(0): %v", err)
		}
	}
	advanced, next, err := leader.sync.TryAdvance(ctx)
	if err != nil {
		t.Fatalf("TryAdvance RECEIVE(0)->SEND(0): %v", err)
	}
	if !advanced || next.Stage != Send {
		t.Fatalf("TryAdvance = %v, %v, want advance to SEND(0)", advanced, next)
	}

	// The leader finishes its own SEND duty for step 0, then crashes
	// before the follower has done anything for SEND at all.
	if _, err := leader.dispatcher.RunSend(ctx, 0, leader.vertexValues); err != nil {
		t.Fatalf("leader.RunSend: %v", err)
	}
	if err := leader.dispatcher.AttestSendComplete(ctx, 0); err != nil {
		t.Fatalf("leader.AttestSendComplete: %v", err)
	}
	if err := leader.Gateway.Close(); err != nil {
		t.Fatalf("leader.Gateway.Close: %v", err)
	}

	if !follower.leader.HasLeadership() {
		t.Fatalf("follower did not inherit leadership after the leader crashed")
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := follower.Run(runCtx); err != nil {
		t.Fatalf("follower.Run: %v", err)
	}
	defer follower.Close()

	final, err := follower.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if final.Lifecycle != Completed {
		t.Fatalf("Lifecycle = %v, want Completed", final.Lifecycle)
	}
	result, err := follower.Result(ctx)
	if err != nil {
		t.Fatalf("follower.Result: %v", err)
	}
	if result["A"] != 1 || result["B"] != 1 {
		t.Fatalf("Result = %v, want A=1, B=1 (matches a no-crash baseline)", result)
	}
}
