package pregel

import (
	"bytes"
	"encoding/gob"

	"github.com/cespare/xxhash/v2"
)

// Router deterministically maps a vertex key to one of P partitions. The
// mapping is stable across workers and across restarts: every worker in
// the group, and the message dispatcher publishing into the work-set log,
// must agree on partitionOf(key) for a given P.
type Router[K comparable] struct {
	numPartitions int
}

// NewRouter constructs a router over numPartitions partitions.
func NewRouter[K comparable](numPartitions int) Router[K] {
	if numPartitions <= 0 {
		panic("pregel: numPartitions must be positive")
	}
	return Router[K]{numPartitions: numPartitions}
}

// NumPartitions reports P.
func (r Router[K]) NumPartitions() int { return r.numPartitions }

// PartitionOf computes positiveMod(hash(serialize(key)), P). Keys are
// serialized with encoding/gob so that any comparable K the caller
// supplies (ints, strings, structs of comparable fields) hashes
// consistently regardless of its concrete representation.
func (r Router[K]) PartitionOf(key K) (int, error) {
	b, err := gobEncode(key)
	if err != nil {
		return 0, err
	}
	return positiveMod(xxhash.Sum64(b), r.numPartitions), nil
}

func positiveMod(h uint64, p int) int {
	return int(h % uint64(p))
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
