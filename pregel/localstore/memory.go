package localstore

import (
	"context"
	"sync"

	"github.com/anujsrc/kafka-graphs/pregel/ptypes"
)

type inboxKey[K comparable] struct {
	step int32
	dst  K
}

type activeKey struct {
	step      int32
	partition int
}

// MemoryStore is an in-process Store backed by plain maps guarded by a
// single mutex. It is the default for tests and single-process runs.
type MemoryStore[K comparable, Msg, VV any] struct {
	mu sync.Mutex

	inbox     map[inboxKey[K]]map[K]Msg
	forwarded map[inboxKey[K]]bool
	active    map[activeKey]map[K]bool
	solution  map[K]ptypes.SolutionEntry[VV]
}

func NewMemoryStore[K comparable, Msg, VV any]() *MemoryStore[K, Msg, VV] {
	return &MemoryStore[K, Msg, VV]{
		inbox:     make(map[inboxKey[K]]map[K]Msg),
		forwarded: make(map[inboxKey[K]]bool),
		active:    make(map[activeKey]map[K]bool),
		solution:  make(map[K]ptypes.SolutionEntry[VV]),
	}
}

func (s *MemoryStore[K, Msg, VV]) BufferMessage(_ context.Context, step int32, dst, src K, msg Msg, hasMsg bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ik := inboxKey[K]{step, dst}
	m := s.inbox[ik]
	if m == nil {
		m = make(map[K]Msg)
		s.inbox[ik] = m
	}
	if hasMsg {
		m[src] = msg
	}
	delete(s.forwarded, ik)
	return nil
}

func (s *MemoryStore[K, Msg, VV]) Inbox(_ context.Context, step int32, dst K) (map[K]Msg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.inbox[inboxKey[K]{step, dst}]
	if m == nil {
		return nil, nil
	}
	out := make(map[K]Msg, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore[K, Msg, VV]) PendingDestinations(_ context.Context, step int32) ([]K, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []K
	for ik := range s.inbox {
		if ik.step != step || s.forwarded[ik] {
			continue
		}
		out = append(out, ik.dst)
	}
	return out, nil
}

func (s *MemoryStore[K, Msg, VV]) MarkForwarded(_ context.Context, step int32, dst K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwarded[inboxKey[K]{step, dst}] = true
	return nil
}

func (s *MemoryStore[K, Msg, VV]) ActivateVertex(_ context.Context, step int32, partition int, dst K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := activeKey{step, partition}
	set := s.active[ak]
	if set == nil {
		set = make(map[K]bool)
		s.active[ak] = set
	}
	set[dst] = true
	return nil
}

func (s *MemoryStore[K, Msg, VV]) DeactivateVertex(_ context.Context, step int32, partition int, dst K) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ak := activeKey{step, partition}
	set := s.active[ak]
	delete(set, dst)
	return len(set) == 0, nil
}

func (s *MemoryStore[K, Msg, VV]) ActiveCount(_ context.Context, step int32, partition int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active[activeKey{step, partition}]), nil
}

func (s *MemoryStore[K, Msg, VV]) GetSolution(_ context.Context, dst K) (ptypes.SolutionEntry[VV], bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.solution[dst]
	return e, ok, nil
}

func (s *MemoryStore[K, Msg, VV]) PutSolution(_ context.Context, dst K, entry ptypes.SolutionEntry[VV]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solution[dst] = entry
	return nil
}

func (s *MemoryStore[K, Msg, VV]) GC(_ context.Context, step int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ik := range s.inbox {
		if ik.step == step {
			delete(s.inbox, ik)
			delete(s.forwarded, ik)
		}
	}
	for ak := range s.active {
		if ak.step == step {
			delete(s.active, ak)
		}
	}
	return nil
}

var _ Store[string, int, int] = (*MemoryStore[string, int, int])(nil)
