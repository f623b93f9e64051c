package coordination

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// InMemoryStore is a single-process reference implementation of the
// external coordination store: group membership, leader election, a
// shared value and a barrier tree, all held in memory and guarded by a
// single mutex. Multiple Gateway handles opened against the same store
// (one per simulated worker) observe each other's writes, which is what
// lets the barrier synchronizer's unit tests exercise a multi-worker
// computation without a real ZooKeeper/etcd ensemble.
//
// Closing a Gateway handle without an explicit Leave/Close on its
// sub-resources drops that handle's group memberships and leader-latch
// candidacies, which is how a leader crash mid-run is simulated.
// Barrier-tree children it added stay in place, including those added
// with ephemeral=true.
type InMemoryStore struct {
	mu      sync.Mutex
	groups  map[string]*groupState
	leaders map[string]*leaderState
	values  map[string]*valueState
	trees   map[string]*treeState
}

// NewInMemoryStore constructs an empty coordination store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		groups:  make(map[string]*groupState),
		leaders: make(map[string]*leaderState),
		values:  make(map[string]*valueState),
		trees:   make(map[string]*treeState),
	}
}

// Gateway opens a new handle against the store, as if a new process
// connected to the coordination ensemble.
func (s *InMemoryStore) Gateway() *InMemoryGateway {
	return &InMemoryGateway{store: s, closed: atomic.NewBool(false)}
}

// InMemoryGateway is a Gateway bound to one InMemoryStore connection. All
// resources it opens are tracked so Close can release them, simulating a
// disconnect.
type InMemoryGateway struct {
	store       *InMemoryStore
	closed      *atomic.Bool
	mu          sync.Mutex
	memberships []*memberHandle
	latches     []*latchHandle
}

func (g *InMemoryGateway) JoinGroup(_ context.Context, path, memberID string) (Membership, error) {
	gs := g.store.group(path)
	gs.add(memberID)
	m := &memberHandle{gs: gs, id: memberID}
	g.mu.Lock()
	g.memberships = append(g.memberships, m)
	g.mu.Unlock()
	return m, nil
}

func (g *InMemoryGateway) ElectLeader(_ context.Context, path string) (LeaderLatch, error) {
	ls := g.store.leader(path)
	id := ls.enter()
	l := &latchHandle{ls: ls, id: id}
	g.mu.Lock()
	g.latches = append(g.latches, l)
	g.mu.Unlock()
	return l, nil
}

func (g *InMemoryGateway) SharedValue(_ context.Context, path string, initial []byte) (SharedValue, error) {
	vs := g.store.value(path, initial)
	return &valueHandle{vs: vs, sub: make(chan struct{})}, nil
}

func (g *InMemoryGateway) BarrierTree(_ context.Context, root string) (BarrierTree, error) {
	ts := g.store.tree(root)
	return &treeHandle{ts: ts}, nil
}

// Close disconnects this gateway handle, dropping every ephemeral
// membership and leader-latch candidacy it opened, just as a real
// ZooKeeper session expiring would.
func (g *InMemoryGateway) Close() error {
	if !g.closed.CAS(false, true) {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.memberships {
		m.gs.remove(m.id)
	}
	for _, l := range g.latches {
		l.ls.leave(l.id)
	}
	return nil
}

// ---------------------------------------------------------------- group

type groupState struct {
	mu      sync.Mutex
	members map[string]int // memberID -> refcount (a process may rejoin)
}

func (s *InMemoryStore) group(path string) *groupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	gs, ok := s.groups[path]
	if !ok {
		gs = &groupState{members: make(map[string]int)}
		s.groups[path] = gs
	}
	return gs
}

func (gs *groupState) add(id string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.members[id]++
}

func (gs *groupState) remove(id string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.members[id] <= 1 {
		delete(gs.members, id)
	} else {
		gs.members[id]--
	}
}

func (gs *groupState) list() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	out := make([]string, 0, len(gs.members))
	for id := range gs.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type memberHandle struct {
	gs *groupState
	id string
}

func (m *memberHandle) MemberID() string         { return m.id }
func (m *memberHandle) Members() ([]string, error) { return m.gs.list(), nil }
func (m *memberHandle) Leave() error {
	m.gs.remove(m.id)
	return nil
}

// --------------------------------------------------------------- leader

// leaderState implements a leader latch: candidates enter in arrival
// order, the earliest still-present candidate holds leadership, exactly
// like Curator's LeaderLatch.
type leaderState struct {
	mu         sync.Mutex
	nextID     int
	candidates []int
}

func (s *InMemoryStore) leader(path string) *leaderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.leaders[path]
	if !ok {
		ls = &leaderState{}
		s.leaders[path] = ls
	}
	return ls
}

func (ls *leaderState) enter() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.nextID++
	id := ls.nextID
	ls.candidates = append(ls.candidates, id)
	return id
}

func (ls *leaderState) leave(id int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, c := range ls.candidates {
		if c == id {
			ls.candidates = append(ls.candidates[:i], ls.candidates[i+1:]...)
			return
		}
	}
}

func (ls *leaderState) isLeader(id int) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.candidates) > 0 && ls.candidates[0] == id
}

type latchHandle struct {
	ls *leaderState
	id int
}

func (l *latchHandle) HasLeadership() bool { return l.ls.isLeader(l.id) }
func (l *latchHandle) Close() error {
	l.ls.leave(l.id)
	return nil
}

// ---------------------------------------------------------------- value

type valueState struct {
	mu    sync.Mutex
	value []byte
	subs  map[chan []byte]struct{}
}

func (s *InMemoryStore) value(path string, initial []byte) *valueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok := s.values[path]
	if !ok {
		vs = &valueState{value: initial, subs: make(map[chan []byte]struct{})}
		s.values[path] = vs
	}
	return vs
}

func (vs *valueState) get() []byte {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]byte, len(vs.value))
	copy(out, vs.value)
	return out
}

func (vs *valueState) set(v []byte) {
	vs.mu.Lock()
	cp := make([]byte, len(v))
	copy(cp, v)
	vs.value = cp
	subs := make([]chan []byte, 0, len(vs.subs))
	for ch := range vs.subs {
		subs = append(subs, ch)
	}
	vs.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- cp:
		default:
		}
	}
}

func (vs *valueState) subscribe() chan []byte {
	ch := make(chan []byte, 1)
	vs.mu.Lock()
	vs.subs[ch] = struct{}{}
	vs.mu.Unlock()
	return ch
}

func (vs *valueState) unsubscribe(ch chan []byte) {
	vs.mu.Lock()
	delete(vs.subs, ch)
	vs.mu.Unlock()
}

type valueHandle struct {
	vs  *valueState
	sub chan struct{}
}

func (h *valueHandle) Get(context.Context) ([]byte, error) { return h.vs.get(), nil }
func (h *valueHandle) Set(_ context.Context, v []byte) error {
	h.vs.set(v)
	return nil
}

func (h *valueHandle) Watch(ctx context.Context) <-chan []byte {
	ch := h.vs.subscribe()
	out := make(chan []byte)
	go func() {
		defer close(out)
		defer h.vs.unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.sub:
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				case <-h.sub:
					return
				}
			}
		}
	}()
	return out
}

func (h *valueHandle) Close() error {
	select {
	case <-h.sub:
	default:
		close(h.sub)
	}
	return nil
}

// ---------------------------------------------------------------- tree

type childKey struct {
	step  int32
	stage Stage
	name  string
}

type treeState struct {
	mu       sync.Mutex
	children map[childKey]bool // value: ephemeral
}

func (s *InMemoryStore) tree(root string) *treeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.trees[root]
	if !ok {
		ts = &treeState{children: make(map[childKey]bool)}
		s.trees[root] = ts
	}
	return ts
}

type treeHandle struct {
	ts *treeState
}

func (h *treeHandle) AddChild(_ context.Context, step int32, stage Stage, name string, ephemeral bool) error {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	h.ts.children[childKey{step, stage, name}] = ephemeral
	return nil
}

func (h *treeHandle) RemoveChild(_ context.Context, step int32, stage Stage, name string) error {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	delete(h.ts.children, childKey{step, stage, name})
	return nil
}

func (h *treeHandle) HasChild(_ context.Context, step int32, stage Stage, name string) (bool, error) {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	_, ok := h.ts.children[childKey{step, stage, name}]
	return ok, nil
}

func (h *treeHandle) CountChildren(_ context.Context, step int32, stage Stage) (int, error) {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	n := 0
	for k := range h.ts.children {
		if k.step == step && k.stage == stage {
			n++
		}
	}
	return n, nil
}

func (h *treeHandle) CountChildrenWithPrefix(_ context.Context, step int32, stage Stage, prefix string) (int, error) {
	h.ts.mu.Lock()
	defer h.ts.mu.Unlock()
	n := 0
	for k := range h.ts.children {
		if k.step == step && k.stage == stage && strings.HasPrefix(k.name, prefix) {
			n++
		}
	}
	return n, nil
}

func (h *treeHandle) Close() error { return nil }
