package memory

import (
	"context"
	"sync"

	"tally/internal/coord"
)

// Op names a Service operation for fault injection.
type Op string

const (
	OpEnsurePath Op = "ensure_path"
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpCreate     Op = "create"
	OpGetW       Op = "getw"
	OpExistsW    Op = "existsw"
)

type node struct {
	data    []byte
	version int32
}

type fault struct {
	remaining int
	err       error
}

// Service is an in-process coordination service with versioned nodes and
// one-shot watches. It implements coord.Client.
type Service struct {
	mu        sync.Mutex
	closed    bool
	nodes     map[string]*node
	watches   map[string][]chan coord.Event
	faults    map[Op]*fault
	conflicts map[string]int
}

var _ coord.Client = (*Service)(nil)

// New returns an empty Service.
func New() *Service {
	return &Service{
		nodes:     map[string]*node{},
		watches:   map[string][]chan coord.Event{},
		faults:    map[Op]*fault{},
		conflicts: map[string]int{},
	}
}

// FailNext makes the next n calls of op return err.
func (s *Service) FailNext(op Op, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{remaining: n, err: err}
}

// ConflictNext makes the next n conditional writes to path lose their version
// race, as if another writer got there first.
func (s *Service) ConflictNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[path] = n
}

// Watches counts outstanding watch registrations on path.
func (s *Service) Watches(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches[path])
}

// Data returns a copy of the stored bytes, if the node exists.
func (s *Service) Data(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), n.data...), true
}

// EnsurePath creates path and its parents with empty data.
func (s *Service) EnsurePath(ctx context.Context, path string) error {
	if err := s.begin(ctx, OpEnsurePath, path); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for _, p := range append(coord.Parents(path), path) {
		if _, ok := s.nodes[p]; ok {
			continue
		}
		s.nodes[p] = &node{}
		s.fire(p, coord.EventNodeCreated)
	}
	return nil
}

// Get reads a node.
func (s *Service) Get(ctx context.Context, path string) ([]byte, coord.Stat, error) {
	if err := s.begin(ctx, OpGet, path); err != nil {
		return nil, coord.Stat{}, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, coord.Stat{}, coord.ErrNoNode
	}
	return append([]byte(nil), n.data...), coord.Stat{Version: n.version}, nil
}

// Set writes a node, honouring the version check unless version is coord.AnyVersion.
func (s *Service) Set(ctx context.Context, path string, data []byte, version int32) (coord.Stat, error) {
	if err := s.begin(ctx, OpSet, path); err != nil {
		return coord.Stat{}, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return coord.Stat{}, coord.ErrNoNode
	}
	if version != coord.AnyVersion {
		if remaining := s.conflicts[path]; remaining > 0 {
			s.conflicts[path] = remaining - 1
			s.bump(path, n)
			return coord.Stat{}, coord.ErrBadVersion
		}
		if n.version != version {
			return coord.Stat{}, coord.ErrBadVersion
		}
	}
	n.data = append([]byte(nil), data...)
	n.version++
	s.fire(path, coord.EventNodeDataChanged)
	return coord.Stat{Version: n.version}, nil
}

// Create adds a node whose parent must exist.
func (s *Service) Create(ctx context.Context, path string, data []byte) error {
	if err := s.begin(ctx, OpCreate, path); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.nodes[path]; ok {
		return coord.ErrNodeExists
	}
	if parent := coord.Parent(path); parent != "/" {
		if _, ok := s.nodes[parent]; !ok {
			return coord.ErrNoNode
		}
	}
	s.nodes[path] = &node{data: append([]byte(nil), data...)}
	s.fire(path, coord.EventNodeCreated)
	return nil
}

// Delete removes a node. It is a test helper and not part of coord.Client.
func (s *Service) Delete(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[path]; !ok {
		return false
	}
	delete(s.nodes, path)
	s.fire(path, coord.EventNodeDeleted)
	return true
}

// GetW reads a node and arms a watch on it atomically.
func (s *Service) GetW(ctx context.Context, path string) ([]byte, coord.Stat, <-chan coord.Event, error) {
	if err := s.begin(ctx, OpGetW, path); err != nil {
		return nil, coord.Stat{}, nil, err
	}
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return nil, coord.Stat{}, nil, coord.ErrNoNode
	}
	ch := s.watch(path)
	return append([]byte(nil), n.data...), coord.Stat{Version: n.version}, ch, nil
}

// ExistsW arms a watch on path whether or not it exists.
func (s *Service) ExistsW(ctx context.Context, path string) (bool, coord.Stat, <-chan coord.Event, error) {
	if err := s.begin(ctx, OpExistsW, path); err != nil {
		return false, coord.Stat{}, nil, err
	}
	defer s.mu.Unlock()
	ch := s.watch(path)
	n, ok := s.nodes[path]
	if !ok {
		return false, coord.Stat{}, ch, nil
	}
	return true, coord.Stat{Version: n.version}, ch, nil
}

// Close drops every watch with EventNotWatching and rejects further calls.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for path := range s.watches {
		s.fire(path, coord.EventNotWatching)
	}
	return nil
}

// begin validates the call and returns with s.mu held on success.
func (s *Service) begin(ctx context.Context, op Op, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := coord.ValidatePath(path); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return coord.ErrClosed
	}
	if f := s.faults[op]; f != nil && f.remaining > 0 {
		f.remaining--
		err := f.err
		s.mu.Unlock()
		return err
	}
	return nil
}

// bump simulates a competing writer changing the node without altering its value.
func (s *Service) bump(path string, n *node) {
	n.version++
	s.fire(path, coord.EventNodeDataChanged)
}

func (s *Service) watch(path string) <-chan coord.Event {
	ch := make(chan coord.Event, 1)
	s.watches[path] = append(s.watches[path], ch)
	return ch
}

// fire delivers ev to every watcher of path and forgets them.
func (s *Service) fire(path string, typ coord.EventType) {
	watchers := s.watches[path]
	if len(watchers) == 0 {
		return
	}
	delete(s.watches, path)
	ev := coord.Event{Type: typ, Path: path}
	if typ == coord.EventNotWatching {
		ev.Err = coord.ErrClosed
	}
	for _, ch := range watchers {
		ch <- ev
		close(ch)
	}
}
