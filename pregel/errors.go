package pregel

import "fmt"

// CoordinationError wraps a failure to reach, read from, or write to the
// coordination store (lost connection, missing barrier path, shared-value
// decode failure). Driver.Run does not retry it: the first one ends Run
// and is returned as Run's error.
type CoordinationError struct {
	Op  string
	Err error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("pregel: coordination error during %s: %v", e.Op, e.Err)
}

func (e *CoordinationError) Unwrap() error { return e.Err }

// LogError wraps a producer send failure (after internal retries are
// exhausted) or a consumer fetch failure against one of the durable logs.
// It is fatal for the affected partition task; no data is lost because the
// inbox and active set are reconstructible by replaying the work-set log
// from the start of the current superstep.
type LogError struct {
	Topic string
	Op    string
	Err   error
}

func (e *LogError) Error() string {
	return fmt.Sprintf("pregel: log error on %s during %s: %v", e.Topic, e.Op, e.Err)
}

func (e *LogError) Unwrap() error { return e.Err }

// UserComputeError wraps an error returned by the user-supplied
// ComputeFunction. It is logged with vertex context and fails the owning
// partition task; the engine never attempts to skip the offending vertex.
// A panic inside Compute is not recovered and is not wrapped.
type UserComputeError struct {
	Vertex    any
	Superstep int32
	Err       error
}

func (e *UserComputeError) Error() string {
	return fmt.Sprintf("pregel: compute function failed for vertex %v at superstep %d: %v",
		e.Vertex, e.Superstep, e.Err)
}

func (e *UserComputeError) Unwrap() error { return e.Err }

// InvariantViolation marks a condition that should be unreachable under
// correct operation, e.g. entering SEND with an unsynchronised work-set
// topic. It always indicates a bug and is meant to fail fast.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("pregel: invariant violation: %s", e.Detail)
}
