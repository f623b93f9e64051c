package pregel

import (
	"testing"
	"time"
)

func TestStateNextOrdering(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewState(now)
	if s.Stage != Receive || s.Superstep != 0 {
		t.Fatalf("NewState = %v, want superstep 0 RECEIVE", s)
	}

	send := s.Next()
	if send.Stage != Send || send.Superstep != 0 {
		t.Fatalf("Next() RECEIVE->SEND = %v", send)
	}
	if !s.Less(send) {
		t.Fatalf("RECEIVE(0) should be Less than SEND(0)")
	}

	recv1 := send.Next()
	if recv1.Stage != Receive || recv1.Superstep != 1 {
		t.Fatalf("Next() SEND->RECEIVE = %v, want superstep 1 RECEIVE", recv1)
	}
	if !send.Less(recv1) {
		t.Fatalf("SEND(0) should be Less than RECEIVE(1)")
	}
}

func TestStateEqualIgnoresTimestamps(t *testing.T) {
	a := NewState(time.Unix(1, 0))
	b := NewState(time.Unix(999, 0))
	if !a.Equal(b) {
		t.Fatalf("states differing only by StartTime should be Equal: %v vs %v", a, b)
	}
}

func TestStateWireRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewState(now).Next().Next().Complete(now.Add(5 * time.Second))

	encoded := EncodeState(s)
	if len(encoded) != stateWireLen {
		t.Fatalf("EncodeState produced %d bytes, want %d", len(encoded), stateWireLen)
	}

	decoded, err := DecodeState(encoded)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if decoded != s {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, s)
	}
}

func TestDecodeStateRejectsBadLength(t *testing.T) {
	if _, err := DecodeState([]byte{1, 2, 3}); err == nil {
		t.Fatalf("DecodeState should reject a short buffer")
	}
}
