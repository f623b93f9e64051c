// Command pregel-worker runs a Pregel computation end to end against the
// single-process in-memory coordination store: it loads an edge-list
// graph, spins up the requested number of simulated worker processes
// (each a pregel.Driver, partitioned disjointly, contending for
// leadership over the same coordination store, same as independent
// worker processes would against a real ZooKeeper/etcd ensemble), runs
// either PageRank or single-source shortest paths to completion, and
// writes the resulting vertex values out.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/anujsrc/kafka-graphs/examples/pagerank"
	"github.com/anujsrc/kafka-graphs/examples/sssp"
	"github.com/anujsrc/kafka-graphs/pregel"
	"github.com/anujsrc/kafka-graphs/pregel/coordination"
	"github.com/anujsrc/kafka-graphs/pregel/localstore"
	"github.com/anujsrc/kafka-graphs/pregel/logstore"
	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

func main() {
	algorithm := flag.String("algorithm", "pagerank", "algorithm to run: pagerank or sssp")
	input := flag.String("input", "", "path to an edge-list file, lines of \"src dst\", '#' comments allowed")
	numWorkers := flag.Int("workers", 2, "number of simulated worker processes")
	numPartitions := flag.Int("partitions", 8, "number of partitions the graph is routed across")
	maxIterations := flag.Int("max-iterations", 50, "supersteps to run before forcing completion")
	damping := flag.Float64("damping", 0.85, "PageRank damping factor")
	source := flag.String("source", "", "SSSP source vertex key (required for -algorithm=sssp)")
	output := flag.String("output", "", "path to write \"key value\" results to; stdout if empty")
	flag.Parse()

	if *input == "" {
		log.Fatal("pregel-worker: -input is required")
	}

	edges, err := readEdgeList(*input)
	if err != nil {
		log.Fatalf("pregel-worker: read edge list: %v", err)
	}
	vertexKeys := vertexSet(edges)
	log.Printf("pregel-worker: loaded %d vertices, %d edges from %s", len(vertexKeys), countEdges(edges), *input)

	switch *algorithm {
	case "pagerank":
		runPageRank(vertexKeys, edges, *numWorkers, *numPartitions, int32(*maxIterations), *damping, *output)
	case "sssp":
		if *source == "" {
			log.Fatal("pregel-worker: -source is required for -algorithm=sssp")
		}
		runSSSP(vertexKeys, edges, *numWorkers, *numPartitions, int32(*maxIterations), *source, *output)
	default:
		log.Fatalf("pregel-worker: unknown -algorithm %q", *algorithm)
	}
}

func runPageRank(vertexKeys []string, edgeList map[string][]ptypes.EdgeWithValue[string, int], numWorkers, numPartitions int, maxIterations int32, damping float64, output string) {
	initial := make(map[string]float64, len(vertexKeys))
	for _, k := range vertexKeys {
		initial[k] = 1.0 / float64(len(vertexKeys))
	}
	unweighted := make(map[string][]ptypes.EdgeWithValue[string, pagerank.EdgeWeight], len(edgeList))
	for src, es := range edgeList {
		converted := make([]ptypes.EdgeWithValue[string, pagerank.EdgeWeight], len(es))
		for i, e := range es {
			converted[i] = ptypes.EdgeWithValue[string, pagerank.EdgeWeight]{Dst: e.Dst}
		}
		unweighted[src] = converted
	}
	compute := pagerank.New[string](len(vertexKeys), damping)
	result := runCluster(initial, unweighted, numWorkers, numPartitions, maxIterations, compute)
	writeResults(result, output)
}

func runSSSP(vertexKeys []string, edgeList map[string][]ptypes.EdgeWithValue[string, int], numWorkers, numPartitions int, maxIterations int32, source string, output string) {
	initial := make(map[string]int, len(vertexKeys))
	for _, k := range vertexKeys {
		if k == source {
			initial[k] = 0
		} else {
			initial[k] = sssp.Infinite
		}
	}
	compute := sssp.New[string](source)
	result := runCluster(initial, edgeList, numWorkers, numPartitions, maxIterations, compute)
	writeResults(result, output)
}

// runCluster wires numWorkers pregel.Driver instances against one shared
// in-memory coordination store and one shared set of durable logs, then
// runs every driver concurrently to completion. This is the single-box
// stand-in for numWorkers independent worker processes, the only
// deployment this repository's Gateway implementation supports; a real
// multi-host run would point every Driver's Gateway at the same external
// ZooKeeper/etcd ensemble instead.
func runCluster[VV, EV, Msg any](
	initial map[string]VV,
	edgeList map[string][]ptypes.EdgeWithValue[string, EV],
	numWorkers, numPartitions int,
	maxIterations int32,
	compute pregel.ComputeFunc[string, VV, EV, Msg],
) map[string]VV {
	router := pregel.NewRouter[string](numPartitions)
	vlog := logstore.NewMemoryVertexLog[string, VV]()
	vlog.Load(initial)
	elog := logstore.NewMemoryEdgeLog[string, EV]()
	elog.Load(edgeList)
	slog := logstore.NewMemorySolutionSetLog[string, VV]()
	wlog := logstore.NewMemoryWorkSetLog[string, Msg](func(k string) int {
		p, err := router.PartitionOf(k)
		if err != nil {
			log.Fatalf("pregel-worker: route key %q: %v", k, err)
		}
		return p
	})

	store := coordination.NewInMemoryStore()
	drivers := make([]*pregel.Driver[string, VV, EV, Msg], numWorkers)
	for w := 0; w < numWorkers; w++ {
		var partitions []int
		for p := 0; p < numPartitions; p++ {
			if p%numWorkers == w {
				partitions = append(partitions, p)
			}
		}
		drivers[w] = &pregel.Driver[string, VV, EV, Msg]{
			WorkerID:      fmt.Sprintf("worker-%s", uuid.NewString()[:8]),
			NumPartitions: numPartitions,
			Partitions:    partitions,
			MaxIterations: maxIterations,
			Router:        router,
			VertexLog:     vlog,
			EdgeLog:       elog,
			SolutionLog:   slog,
			WorkLog:       wlog,
			Store:         localstore.NewMemoryStore[string, Msg, VV](),
			Compute:       compute,
			Gateway:       store.Gateway(),
		}
	}

	ctx := context.Background()
	for _, d := range drivers {
		if err := d.Prepare(ctx, time.Now()); err != nil {
			log.Fatalf("pregel-worker: Prepare: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range drivers {
		d := d
		g.Go(func() error {
			_, err := d.Run(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("pregel-worker: Run: %v", err)
	}

	result, err := drivers[0].Result(ctx)
	if err != nil {
		log.Fatalf("pregel-worker: Result: %v", err)
	}
	for _, d := range drivers {
		_ = d.Close()
	}
	return result
}

func readEdgeList(path string) (map[string][]ptypes.EdgeWithValue[string, int], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	edges := make(map[string][]ptypes.EdgeWithValue[string, int])
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		src, dst := fields[0], fields[1]
		weight := 1
		if len(fields) >= 3 {
			if w, err := strconv.Atoi(fields[2]); err == nil {
				weight = w
			}
		}
		edges[src] = append(edges[src], ptypes.EdgeWithValue[string, int]{Dst: dst, Value: weight})
		if _, ok := edges[dst]; !ok {
			edges[dst] = nil
		}
	}
	return edges, scanner.Err()
}

func vertexSet(edges map[string][]ptypes.EdgeWithValue[string, int]) []string {
	out := make([]string, 0, len(edges))
	for k := range edges {
		out = append(out, k)
	}
	return out
}

func countEdges(edges map[string][]ptypes.EdgeWithValue[string, int]) int {
	n := 0
	for _, es := range edges {
		n += len(es)
	}
	return n
}

func writeResults[VV any](result map[string]VV, path string) {
	w := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("pregel-worker: create %s: %v", path, err)
		}
		defer f.Close()
		w = f
	}
	for k, v := range result {
		fmt.Fprintf(w, "%s %v\n", k, v)
	}
}
