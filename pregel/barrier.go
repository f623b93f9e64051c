package pregel

import (
	"context"
	"fmt"
	"time"

	"github.com/anujsrc/kafka-graphs/pregel/coordination"
)

// tickInterval is how often the barrier synchronizer re-checks whether
// the current stage is ready to advance.
const tickInterval = 250 * time.Millisecond

// BarrierSynchronizer replicates the current PregelState through a
// coordination.SharedValue and advances it once every worker has
// attested readiness via the barrier tree. Only the elected leader ever
// writes the shared value; every worker, leader or not, reads it to
// learn which stage to run locally.
type BarrierSynchronizer struct {
	Shared     coordination.SharedValue
	Tree       coordination.BarrierTree
	Leader     coordination.LeaderLatch
	Membership coordination.Membership

	// Telemetry, if set, tags every PregelState exchange through Shared
	// with this worker's vector clock so barrier-advancement events can
	// be causally ordered across the whole group after the fact.
	Telemetry *Telemetry
}

func (b *BarrierSynchronizer) send(event string, payload []byte) []byte {
	return b.Telemetry.PrepareSend(event, payload)
}

func (b *BarrierSynchronizer) receive(event string, buf []byte) []byte {
	return b.Telemetry.UnpackReceive(event, buf)
}

// Current decodes the replicated PregelState.
func (b *BarrierSynchronizer) Current(ctx context.Context) (State, error) {
	raw, err := b.Shared.Get(ctx)
	if err != nil {
		return State{}, &CoordinationError{Op: "read-state", Err: err}
	}
	raw = b.receive("observe-state", raw)
	st, err := DecodeState(raw)
	if err != nil {
		return State{}, &CoordinationError{Op: "decode-state", Err: err}
	}
	return st, nil
}

// Initialize overwrites the shared value with a freshly created State,
// whatever it held before. Callers should only do this once, from
// Driver.Prepare, before any worker starts ticking.
func (b *BarrierSynchronizer) Initialize(ctx context.Context, now time.Time) error {
	payload := b.send("init-state", EncodeState(NewState(now)))
	if err := b.Shared.Set(ctx, payload); err != nil {
		return &CoordinationError{Op: "init-state", Err: err}
	}
	return nil
}

// TryAdvance runs one leader-only advancement check: it reads the
// current stage, counts the barrier-tree attestations for that stage
// against the group's current membership, and if every current member
// has attested — for SEND, additionally only once no partition-activity
// marker remains — it writes the next State. Using live group size
// rather than a fixed worker count means a member that has permanently
// left (crashed) stops being waited on, so a new leader elected after a
// crash can still drive the remaining group to completion. Non-leader
// callers and callers for whom the stage is not yet ready are no-ops.
func (b *BarrierSynchronizer) TryAdvance(ctx context.Context) (advanced bool, next State, err error) {
	if !b.Leader.HasLeadership() {
		return false, State{}, nil
	}
	cur, err := b.Current(ctx)
	if err != nil {
		return false, State{}, err
	}
	if cur.Lifecycle == Completed {
		return false, cur, nil
	}

	members, err := b.Membership.Members()
	if err != nil {
		return false, State{}, &CoordinationError{Op: "list-members", Err: err}
	}
	groupSize := len(members)

	ready := false
	switch cur.Stage {
	case Receive:
		n, err := b.Tree.CountChildren(ctx, cur.Superstep, coordination.Receive)
		if err != nil {
			return false, State{}, &CoordinationError{Op: "count-receive-attestations", Err: err}
		}
		ready = n >= groupSize
	case Send:
		draining, err := b.Tree.CountChildrenWithPrefix(ctx, cur.Superstep, coordination.Send, partitionChildPrefix)
		if err != nil {
			return false, State{}, &CoordinationError{Op: "count-send-partitions", Err: err}
		}
		complete, err := b.Tree.CountChildrenWithPrefix(ctx, cur.Superstep, coordination.Send, workerChildPrefix)
		if err != nil {
			return false, State{}, &CoordinationError{Op: "count-send-attestations", Err: err}
		}
		ready = draining == 0 && complete >= groupSize
	default:
		return false, State{}, &InvariantViolation{Detail: "unknown stage in barrier advancement"}
	}
	if !ready {
		return false, cur, nil
	}

	next = cur.Next()
	payload := b.send(fmt.Sprintf("advance-to-%s", next), EncodeState(next))
	if err := b.Shared.Set(ctx, payload); err != nil {
		return false, State{}, &CoordinationError{Op: "write-state", Err: err}
	}
	return true, next, nil
}

// Complete writes a terminal State, leaving Superstep at its current
// value. Only the leader may call this successfully; it is how the
// driver force-ends a run that hit its iteration cap or converged.
func (b *BarrierSynchronizer) Complete(ctx context.Context, now time.Time) (State, error) {
	if !b.Leader.HasLeadership() {
		return State{}, &CoordinationError{Op: "complete-state", Err: errNotLeader}
	}
	cur, err := b.Current(ctx)
	if err != nil {
		return State{}, err
	}
	done := cur.Complete(now)
	payload := b.send("complete-state", EncodeState(done))
	if err := b.Shared.Set(ctx, payload); err != nil {
		return State{}, &CoordinationError{Op: "write-complete-state", Err: err}
	}
	return done, nil
}

var errNotLeader = notLeaderError{}

type notLeaderError struct{}

func (notLeaderError) Error() string { return "pregel: this worker does not hold leadership" }
