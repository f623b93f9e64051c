package pregel

import "github.com/anujsrc/kafka-graphs/pregel/ptypes"

// Callback accumulates the output of a single ComputeFunction invocation:
// an optional new vertex value and the set of outgoing messages keyed by
// destination. It is modelled as an output builder passed by reference
// rather than an event-style callback, since the ordering of outgoing
// messages is irrelevant and set semantics suffice.
type Callback[K comparable, VV, Msg any] struct {
	newValue    VV
	hasNewValue bool
	outgoing    map[K]Msg
}

// SetNewVertexValue records the vertex's new value for this superstep. It
// may be called at most once per compute invocation; calling it again
// overwrites the previous value. Not calling it at all leaves the
// vertex's solution-set entry unchanged.
func (cb *Callback[K, VV, Msg]) SetNewVertexValue(v VV) {
	cb.newValue = v
	cb.hasNewValue = true
}

// SendMessageTo enqueues an outgoing message to dst for the next
// superstep. A second call for the same dst within one invocation
// overwrites the first (last-writer-wins within a single compute call),
// matching the expectation that a compute function produces at most one
// outgoing message per (src, dst, step) triple.
func (cb *Callback[K, VV, Msg]) SendMessageTo(dst K, msg Msg) {
	if cb.outgoing == nil {
		cb.outgoing = make(map[K]Msg)
	}
	cb.outgoing[dst] = msg
}

func (cb *Callback[K, VV, Msg]) reset() {
	cb.hasNewValue = false
	cb.outgoing = nil
}

// ComputeFunction is the user-supplied vertex program. It must be
// deterministic with respect to its inputs: re-invoking Compute with the
// same (superstep, vertex, incoming, edges) must yield the same
// (newVertexValue, outgoingMessages), since the engine may re-run it
// after a late message invalidates a prior forward, or after a
// crash-restart.
type ComputeFunction[K comparable, VV, EV, Msg any] interface {
	Compute(
		superstep int32,
		vertex ptypes.VertexWithValue[K, VV],
		incoming map[K]Msg,
		edges []ptypes.EdgeWithValue[K, EV],
		cb *Callback[K, VV, Msg],
	) error
}

// ComputeFunc adapts a plain function to the ComputeFunction interface.
type ComputeFunc[K comparable, VV, EV, Msg any] func(
	superstep int32,
	vertex ptypes.VertexWithValue[K, VV],
	incoming map[K]Msg,
	edges []ptypes.EdgeWithValue[K, EV],
	cb *Callback[K, VV, Msg],
) error

func (f ComputeFunc[K, VV, EV, Msg]) Compute(
	superstep int32,
	vertex ptypes.VertexWithValue[K, VV],
	incoming map[K]Msg,
	edges []ptypes.EdgeWithValue[K, EV],
	cb *Callback[K, VV, Msg],
) error {
	return f(superstep, vertex, incoming, edges, cb)
}
