package coord

import (
	"context"
	"errors"
)

// AnyVersion disables the version check on Set.
const AnyVersion int32 = -1

var (
	// ErrNoNode is returned when a path does not exist.
	ErrNoNode = errors.New("coord: node does not exist")
	// ErrNodeExists is returned by Create when the path already exists.
	ErrNodeExists = errors.New("coord: node already exists")
	// ErrBadVersion is returned by a conditional Set whose version is stale.
	ErrBadVersion = errors.New("coord: version conflict")
	// ErrClosed is returned after the client has been closed.
	ErrClosed = errors.New("coord: client closed")
	// ErrMalformedValue is returned when a stored counter cannot be decoded.
	ErrMalformedValue = errors.New("coord: malformed counter value")
)

// Stat carries node metadata returned by reads and writes.
type Stat struct {
	Version int32
}

// EventType identifies what triggered a watch.
type EventType int

const (
	// EventNodeCreated fires when a watched absent path is created.
	EventNodeCreated EventType = iota + 1
	// EventNodeDataChanged fires when a watched node's data is written.
	EventNodeDataChanged
	// EventNodeDeleted fires when a watched node is removed.
	EventNodeDeleted
	// EventNotWatching fires when the watch was dropped without a change,
	// for example on session loss or client close.
	EventNotWatching
)

// String returns a short name for logs.
func (t EventType) String() string {
	switch t {
	case EventNodeCreated:
		return "created"
	case EventNodeDataChanged:
		return "data_changed"
	case EventNodeDeleted:
		return "deleted"
	case EventNotWatching:
		return "not_watching"
	default:
		return "unknown"
	}
}

// Event is delivered once on a watch channel.
type Event struct {
	Type EventType
	Path string
	Err  error
}

// Client is the subset of a coordination service the counters and limits need.
//
// Watch channels returned by GetW and ExistsW receive at most one event and
// must be re-armed by the caller to keep observing the path.
type Client interface {
	// EnsurePath creates path and all of its parents. Existing nodes are left untouched.
	EnsurePath(ctx context.Context, path string) error
	Get(ctx context.Context, path string) ([]byte, Stat, error)
	// Set writes data if the node's version matches, or unconditionally with AnyVersion.
	Set(ctx context.Context, path string, data []byte, version int32) (Stat, error)
	Create(ctx context.Context, path string, data []byte) error
	// GetW reads path and arms a one-shot watch on it in the same round trip.
	GetW(ctx context.Context, path string) ([]byte, Stat, <-chan Event, error)
	// ExistsW arms a one-shot watch that also fires when an absent path is created.
	ExistsW(ctx context.Context, path string) (bool, Stat, <-chan Event, error)
	Close() error
}
