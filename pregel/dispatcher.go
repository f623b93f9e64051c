package pregel

import (
	"context"
	"fmt"

	"github.com/anujsrc/kafka-graphs/pregel/coordination"
)

// Dispatcher attests this worker's progress through the barrier tree
// Tree: it marks a partition active for a superstep's SEND phase when
// Forward has just processed pending destinations there, and removes the
// marker once the partition's active set has drained.
// A partition's outgoing messages are already durably published to the
// work-set log (inside PartitionTask.Forward) before its marker is
// removed, so "marker absent" always implies "every message this
// partition sent is durably enqueued", never the other way around.
type Dispatcher[K comparable, VV, EV, Msg any] struct {
	WorkerID string
	Tree     coordination.BarrierTree
	Tasks    map[int]*PartitionTask[K, VV, EV, Msg]
}

const (
	partitionChildPrefix = "partition-"
	workerChildPrefix    = "worker:"
)

func partitionChildName(partition int) string {
	return fmt.Sprintf("%s%d", partitionChildPrefix, partition)
}

func workerChildName(workerID string) string {
	return workerChildPrefix + workerID
}

// AttestReceiveSynced marks this worker ready to leave RECEIVE for step:
// every work-set entry published for or before step has been buffered
// into this worker's partitions.
func (d *Dispatcher[K, VV, EV, Msg]) AttestReceiveSynced(ctx context.Context, step int32) error {
	if err := d.Tree.AddChild(ctx, step, coordination.Receive, d.WorkerID, true); err != nil {
		return &CoordinationError{Op: "attest-receive-synced", Err: err}
	}
	return nil
}

// RunSend forwards every pending destination across this worker's
// partitions, keeping each partition's barrier-tree marker in sync with
// whether that partition still has active (in-flight) work for step. It
// returns the total number of vertices forwarded across all of this
// worker's partitions, which the driver uses to detect convergence: if
// no worker forwards anything for an entire SEND phase, the computation
// has nothing left to do and will never forward again.
func (d *Dispatcher[K, VV, EV, Msg]) RunSend(ctx context.Context, step int32, vertexValues map[K]VV) (int, error) {
	total := 0
	for partition, task := range d.Tasks {
		n, err := task.Forward(ctx, step, vertexValues)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			if err := d.Tree.AddChild(ctx, step, coordination.Send, partitionChildName(partition), true); err != nil {
				return total, &CoordinationError{Op: "attest-send-active", Err: err}
			}
		}
		count, err := task.Store.ActiveCount(ctx, step, partition)
		if err != nil {
			return total, fmt.Errorf("pregel: read active count for partition %d: %w", partition, err)
		}
		if count == 0 {
			if err := d.Tree.RemoveChild(ctx, step, coordination.Send, partitionChildName(partition)); err != nil {
				return total, &CoordinationError{Op: "attest-send-drained", Err: err}
			}
		}
	}
	return total, nil
}

// AttestSendComplete marks this worker as having attempted SEND for step
// at least once: it has run Forward across every partition it owns and
// published any resulting messages, whether or not any of them had
// pending work. The barrier synchronizer requires this from every
// current group member before it will advance past SEND, independent of
// the partition-activity markers RunSend manages, so that a worker which
// has not yet ticked for step cannot be mistaken for one with nothing to
// do.
func (d *Dispatcher[K, VV, EV, Msg]) AttestSendComplete(ctx context.Context, step int32) error {
	if err := d.Tree.AddChild(ctx, step, coordination.Send, workerChildName(d.WorkerID), true); err != nil {
		return &CoordinationError{Op: "attest-send-complete", Err: err}
	}
	return nil
}

// BufferAll drains the work-set log once into every partition this worker
// owns and reports whether all of them are now individually synced; it
// does not wait for an unsynced partition.
func (d *Dispatcher[K, VV, EV, Msg]) BufferAll(ctx context.Context, step int32) (synced bool, err error) {
	synced = true
	for _, task := range d.Tasks {
		if err := task.Buffer(ctx, step); err != nil {
			return false, err
		}
		s, err := task.Synced(ctx)
		if err != nil {
			return false, err
		}
		if !s {
			synced = false
		}
	}
	return synced, nil
}

// GCStep discards the ephemeral inbox and forwarded-set state for step
// across every partition this worker owns.
func (d *Dispatcher[K, VV, EV, Msg]) GCStep(ctx context.Context, step int32) error {
	for _, task := range d.Tasks {
		if err := task.GC(ctx, step); err != nil {
			return err
		}
	}
	return nil
}
