package pregel

import "github.com/arcaneiceman/GoVector/govec"

// Telemetry wraps a GoVector vector-clock logger for one worker process.
// It instruments the byte payloads that actually cross a process
// boundary — the replicated PregelState read and written through a
// coordination.SharedValue — so a log trawl across every worker can
// reconstruct a causally-consistent ordering of barrier advancement
// events, the same way the teacher instruments its own TCP protocol
// with PrepareSend/UnpackReceive around every message it puts on the
// wire. A nil *Telemetry is a valid no-op, so callers that don't need
// the vector-clock log can leave it unset.
type Telemetry struct {
	log *govec.GoLog
}

// NewTelemetry initializes a GoVector logger identified by workerID,
// writing its causal log to "<workerID>-pregelvclog".
func NewTelemetry(workerID string) *Telemetry {
	return &Telemetry{log: govec.Initialize(workerID, workerID+"-pregelvclog")}
}

// LogLocalEvent records an event with no associated message, such as a
// stage transition this worker decided on its own.
func (t *Telemetry) LogLocalEvent(event string) {
	if t == nil {
		return
	}
	t.log.LogLocalEvent(event)
}

// PrepareSend tags payload with this worker's vector clock before it is
// written to a SharedValue. The returned bytes, not payload, are what
// must actually be stored.
func (t *Telemetry) PrepareSend(event string, payload []byte) []byte {
	if t == nil {
		return payload
	}
	return t.log.PrepareSend(event, payload)
}

// UnpackReceive merges the sender's vector clock into this worker's own
// and returns the original payload bytes PrepareSend was given.
func (t *Telemetry) UnpackReceive(event string, buf []byte) []byte {
	if t == nil {
		return buf
	}
	var payload []byte
	t.log.UnpackReceive(event, buf, &payload)
	return payload
}
