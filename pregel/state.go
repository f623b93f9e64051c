// Package pregel implements a distributed Pregel-style bulk synchronous
// parallel graph computation engine: superstep coordination across
// workers, the per-worker RECEIVE/SEND state machine, the vertex-compute
// pipeline and the message dispatcher that routes outgoing messages to
// the partition that owns their destination.
package pregel

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Lifecycle is the coarse-grained state of a Pregel computation.
type Lifecycle byte

const (
	Created Lifecycle = iota
	Running
	Completed
)

func (l Lifecycle) String() string {
	switch l {
	case Created:
		return "CREATED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Lifecycle(%d)", byte(l))
	}
}

// Stage is the phase of a superstep.
type Stage byte

const (
	Receive Stage = iota
	Send
)

func (s Stage) String() string {
	switch s {
	case Receive:
		return "RECEIVE"
	case Send:
		return "SEND"
	default:
		return fmt.Sprintf("Stage(%d)", byte(s))
	}
}

// State is the immutable logical cursor of a Pregel computation: which
// superstep and phase it is in, and whether the computation has started
// or finished. Equality (Equal) compares only (Lifecycle, Superstep,
// Stage); StartTime/EndTime are advisory and excluded.
//
// State forms a total order under (Superstep, Stage) with Receive <
// Send; Next advances Receive->Send within a superstep, and Send->Receive
// while incrementing the superstep. The replicated shared value in the
// coordination store only ever advances along this order while the
// lifecycle is Running.
type State struct {
	Lifecycle Lifecycle
	Superstep int32
	Stage     Stage
	StartTime int64 // unix millis, set when the computation starts running
	EndTime   int64 // unix millis, set when the computation completes
}

// NewState constructs the initial RUNNING state at superstep 0, RECEIVE.
func NewState(now time.Time) State {
	return State{Lifecycle: Running, Superstep: 0, Stage: Receive, StartTime: now.UnixMilli()}
}

// Next advances the state by one phase: RECEIVE -> SEND within the same
// superstep, SEND -> RECEIVE incrementing the superstep.
func (s State) Next() State {
	switch s.Stage {
	case Receive:
		s.Stage = Send
		return s
	case Send:
		s.Stage = Receive
		s.Superstep++
		return s
	default:
		panic(fmt.Sprintf("pregel: invalid stage %v", s.Stage))
	}
}

// Complete returns the COMPLETED form of s, stamping EndTime.
func (s State) Complete(now time.Time) State {
	s.Lifecycle = Completed
	s.EndTime = now.UnixMilli()
	return s
}

// RunningTime reports how long the computation has been running (if
// RUNNING) or ran for (if COMPLETED). It is zero while CREATED.
func (s State) RunningTime(now time.Time) time.Duration {
	switch s.Lifecycle {
	case Created:
		return 0
	case Running:
		return now.Sub(time.UnixMilli(s.StartTime))
	default:
		return time.UnixMilli(s.EndTime).Sub(time.UnixMilli(s.StartTime))
	}
}

// Equal compares (Lifecycle, Superstep, Stage) only; timestamps are
// advisory and never participate in equality.
func (s State) Equal(o State) bool {
	return s.Lifecycle == o.Lifecycle && s.Superstep == o.Superstep && s.Stage == o.Stage
}

// Less reports whether s strictly precedes o in the (Superstep, Stage)
// total order used to enforce monotone advancement of the shared value.
func (s State) Less(o State) bool {
	if s.Superstep != o.Superstep {
		return s.Superstep < o.Superstep
	}
	return s.Stage == Receive && o.Stage == Send
}

func (s State) String() string {
	return fmt.Sprintf("PregelState{%s, superstep=%d, stage=%s}", s.Lifecycle, s.Superstep, s.Stage)
}

// wire format: byte lifecycle, int32 superstep, byte stage, int64 startTime, int64 endTime
const stateWireLen = 1 + 4 + 1 + 8 + 8

// EncodeState serializes s to the stable binary wire format used by the
// coordination store's shared value.
func EncodeState(s State) []byte {
	buf := make([]byte, stateWireLen)
	buf[0] = byte(s.Lifecycle)
	binary.BigEndian.PutUint32(buf[1:5], uint32(s.Superstep))
	buf[5] = byte(s.Stage)
	binary.BigEndian.PutUint64(buf[6:14], uint64(s.StartTime))
	binary.BigEndian.PutUint64(buf[14:22], uint64(s.EndTime))
	return buf
}

// DecodeState deserializes a State previously produced by EncodeState.
func DecodeState(b []byte) (State, error) {
	if len(b) != stateWireLen {
		return State{}, fmt.Errorf("pregel: invalid PregelState wire length %d", len(b))
	}
	return State{
		Lifecycle: Lifecycle(b[0]),
		Superstep: int32(binary.BigEndian.Uint32(b[1:5])),
		Stage:     Stage(b[5]),
		StartTime: int64(binary.BigEndian.Uint64(b[6:14])),
		EndTime:   int64(binary.BigEndian.Uint64(b[14:22])),
	}, nil
}

// Bytes is a convenience wrapper around EncodeState.
func (s State) Bytes() []byte { return EncodeState(s) }
