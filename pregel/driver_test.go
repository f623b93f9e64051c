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

// newSingleWorkerDriver wires one Driver against an in-memory coordination
// store and in-memory logs, owning every partition. It is the smallest
// harness that exercises the full RECEIVE/SEND loop end to end.
func newSingleWorkerDriver[K comparable, VV, EV, Msg any](
	t *testing.T,
	numPartitions int,
	vertices map[K]VV,
	edges map[K][]ptypes.EdgeWithValue[K, EV],
	compute ComputeFunction[K, VV, EV, Msg],
	maxIterations int32,
) (*Driver[K, VV, EV, Msg], *coordination.InMemoryGateway) {
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

	partitions := make([]int, numPartitions)
	for i := range partitions {
		partitions[i] = i
	}

	gw := coordination.NewInMemoryStore().Gateway()
	d := &Driver[K, VV, EV, Msg]{
		WorkerID:      "w0",
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
		Gateway:       gw,
	}
	return d, gw
}

func runToCompletion[K comparable, VV, EV, Msg any](t *testing.T, d *Driver[K, VV, EV, Msg]) map[K]VV {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.Prepare(ctx, time.Now()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer d.Close()

	if _, err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	result, err := d.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	return result
}

// TestDriverSingleVertexConverges runs a single sink vertex with no edges:
// it computes once at superstep 0, forwards nothing, and the run must
// converge without hitting MaxIterations.
func TestDriverSingleVertexConverges(t *testing.T) {
	compute := ComputeFunc[string, int, int, int](
		func(_ int32, vertex ptypes.VertexWithValue[string, int], _ map[string]int, _ []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			cb.SetNewVertexValue(vertex.Value + 1)
			return nil
		},
	)
	d, _ := newSingleWorkerDriver[string, int, int, int](t, 1,
		map[string]int{"v1": 0},
		nil,
		compute,
		100,
	)
	result := runToCompletion(t, d)
	if result["v1"] != 1 {
		t.Fatalf("Result[v1] = %d, want 1", result["v1"])
	}

	final, err := d.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if final.Lifecycle != Completed {
		t.Fatalf("Lifecycle = %v, want Completed", final.Lifecycle)
	}
	// Convergence is only detected once a whole SEND phase forwards
	// nothing, which is the superstep after the one where v1 last ran
	// compute, so the run ends slightly past superstep 0.
	if final.Superstep < 1 || final.Superstep > 2 {
		t.Fatalf("Superstep = %d, want 1 or 2", final.Superstep)
	}
}

// TestDriverPropagatesAlongChain runs three vertices wired in a line,
// v1->v2->v3, each relaying a single message to its successor. The value
// should reach v3 after the chain has fully propagated, and the run must
// converge once nothing is left to forward.
func TestDriverPropagatesAlongChain(t *testing.T) {
	edges := map[string][]ptypes.EdgeWithValue[string, int]{
		"v1": {{Dst: "v2", Value: 0}},
		"v2": {{Dst: "v3", Value: 0}},
	}
	compute := ComputeFunc[string, int, int, int](
		func(superstep int32, vertex ptypes.VertexWithValue[string, int], incoming map[string]int, edges []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			val := vertex.Value
			for _, msg := range incoming {
				val += msg
			}
			cb.SetNewVertexValue(val)
			if superstep == 0 && vertex.Key == "v1" {
				for _, e := range edges {
					cb.SendMessageTo(e.Dst, 1)
				}
			} else if len(incoming) > 0 {
				for _, e := range edges {
					cb.SendMessageTo(e.Dst, val)
				}
			}
			return nil
		},
	)
	d, _ := newSingleWorkerDriver[string, int, int, int](t, 4,
		map[string]int{"v1": 0, "v2": 0, "v3": 0},
		edges,
		compute,
		50,
	)
	result := runToCompletion(t, d)
	if result["v3"] != 1 {
		t.Fatalf("Result[v3] = %d, want 1 (propagated down the chain)", result["v3"])
	}
}

// TestDriverStopsAtMaxIterations runs a vertex that forwards to itself
// forever (never naturally converging) and checks the run stops once it
// hits MaxIterations rather than looping indefinitely.
func TestDriverStopsAtMaxIterations(t *testing.T) {
	edges := map[string][]ptypes.EdgeWithValue[string, int]{
		"v1": {{Dst: "v1", Value: 0}},
	}
	compute := ComputeFunc[string, int, int, int](
		func(_ int32, vertex ptypes.VertexWithValue[string, int], _ map[string]int, edges []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			cb.SetNewVertexValue(vertex.Value + 1)
			for _, e := range edges {
				cb.SendMessageTo(e.Dst, 1)
			}
			return nil
		},
	)
	d, _ := newSingleWorkerDriver[string, int, int, int](t, 1,
		map[string]int{"v1": 0},
		edges,
		compute,
		5,
	)
	result := runToCompletion(t, d)
	if result["v1"] != 5 {
		t.Fatalf("Result[v1] = %d, want 5 (one increment per superstep up to MaxIterations)", result["v1"])
	}
	final, err := d.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if final.Superstep != 5 {
		t.Fatalf("Superstep = %d, want 5", final.Superstep)
	}
}

// TestDriverDisjointPartitionsIndependent runs two vertices that never
// exchange messages, routed across enough partitions that they are very
// likely to land in different ones, and checks each still converges to
// its own independent result.
func TestDriverDisjointPartitionsIndependent(t *testing.T) {
	compute := ComputeFunc[string, int, int, int](
		func(_ int32, vertex ptypes.VertexWithValue[string, int], _ map[string]int, _ []ptypes.EdgeWithValue[string, int], cb *Callback[string, int, int]) error {
			if vertex.Key == "alpha" {
				cb.SetNewVertexValue(10)
			} else {
				cb.SetNewVertexValue(20)
			}
			return nil
		},
	)
	d, _ := newSingleWorkerDriver[string, int, int, int](t, 8,
		map[string]int{"alpha": 0, "beta": 0},
		nil,
		compute,
		20,
	)
	result := runToCompletion(t, d)
	if result["alpha"] != 10 || result["beta"] != 20 {
		t.Fatalf("Result = %v, want alpha=10, beta=20", result)
	}
}
