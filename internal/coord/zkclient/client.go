package zkclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"

	"tally/internal/coord"
)

// Config describes how to reach the ZooKeeper ensemble.
type Config struct {
	Servers        []string
	SessionTimeout time.Duration
	// ConnectTimeout bounds the wait for the first session; zero skips the wait.
	ConnectTimeout time.Duration
}

// Client implements coord.Client over a ZooKeeper session.
type Client struct {
	conn   *zk.Conn
	logger *slog.Logger
	done   chan struct{}
}

var _ coord.Client = (*Client)(nil)

// Connect opens a session and optionally waits until it is established.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("zookeeper servers required")
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout,
		zk.WithLogger(printfLogger{logger: logger}),
		zk.WithLogInfo(false),
	)
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	c := &Client{conn: conn, logger: logger, done: make(chan struct{})}
	established := make(chan struct{})
	go c.watchSession(events, established)

	if cfg.ConnectTimeout > 0 {
		select {
		case <-established:
		case <-time.After(cfg.ConnectTimeout):
			conn.Close()
			return nil, fmt.Errorf("connect zookeeper: no session after %s", cfg.ConnectTimeout)
		}
	}
	return c, nil
}

// watchSession logs session transitions until the connection is closed.
func (c *Client) watchSession(events <-chan zk.Event, established chan struct{}) {
	defer close(c.done)
	signalled := false
	for ev := range events {
		if ev.Type != zk.EventSession {
			continue
		}
		switch ev.State {
		case zk.StateHasSession:
			c.logger.Info("zookeeper session established", "server", ev.Server)
			if !signalled {
				close(established)
				signalled = true
			}
		case zk.StateExpired:
			c.logger.Warn("zookeeper session expired")
		case zk.StateDisconnected:
			c.logger.Warn("zookeeper disconnected", "server", ev.Server)
		}
	}
}

// EnsurePath creates path and every missing parent with empty data.
func (c *Client) EnsurePath(ctx context.Context, path string) error {
	if err := coord.ValidatePath(path); err != nil {
		return err
	}
	for _, p := range append(coord.Parents(path), path) {
		_, err := callWithContext(ctx, func() (string, error) {
			return c.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll))
		})
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("ensure %s: %w", p, mapError(err))
		}
	}
	return nil
}

// Get reads a node.
func (c *Client) Get(ctx context.Context, path string) ([]byte, coord.Stat, error) {
	type result struct {
		data []byte
		stat *zk.Stat
	}
	res, err := callWithContext(ctx, func() (result, error) {
		data, stat, err := c.conn.Get(path)
		return result{data: data, stat: stat}, err
	})
	if err != nil {
		return nil, coord.Stat{}, mapError(err)
	}
	return res.data, toStat(res.stat), nil
}

// Set writes a node with a version check.
func (c *Client) Set(ctx context.Context, path string, data []byte, version int32) (coord.Stat, error) {
	stat, err := callWithContext(ctx, func() (*zk.Stat, error) {
		return c.conn.Set(path, data, version)
	})
	if err != nil {
		return coord.Stat{}, mapError(err)
	}
	return toStat(stat), nil
}

// Create adds a persistent node.
func (c *Client) Create(ctx context.Context, path string, data []byte) error {
	_, err := callWithContext(ctx, func() (string, error) {
		return c.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll))
	})
	return mapError(err)
}

// GetW reads a node and leaves a data watch on it.
func (c *Client) GetW(ctx context.Context, path string) ([]byte, coord.Stat, <-chan coord.Event, error) {
	type result struct {
		data []byte
		stat *zk.Stat
		ch   <-chan zk.Event
	}
	res, err := callWithContext(ctx, func() (result, error) {
		data, stat, ch, err := c.conn.GetW(path)
		return result{data: data, stat: stat, ch: ch}, err
	})
	if err != nil {
		return nil, coord.Stat{}, nil, mapError(err)
	}
	return res.data, toStat(res.stat), translate(res.ch), nil
}

// ExistsW leaves a watch that fires on creation, change or deletion.
func (c *Client) ExistsW(ctx context.Context, path string) (bool, coord.Stat, <-chan coord.Event, error) {
	type result struct {
		exists bool
		stat   *zk.Stat
		ch     <-chan zk.Event
	}
	res, err := callWithContext(ctx, func() (result, error) {
		exists, stat, ch, err := c.conn.ExistsW(path)
		return result{exists: exists, stat: stat, ch: ch}, err
	})
	if err != nil {
		return false, coord.Stat{}, nil, mapError(err)
	}
	return res.exists, toStat(res.stat), translate(res.ch), nil
}

// Close ends the session. Outstanding watches receive EventNotWatching.
func (c *Client) Close() error {
	c.conn.Close()
	<-c.done
	return nil
}

// translate adapts a one-shot zk watch channel.
func translate(in <-chan zk.Event) <-chan coord.Event {
	out := make(chan coord.Event, 1)
	go func() {
		defer close(out)
		ev, ok := <-in
		if !ok {
			out <- coord.Event{Type: coord.EventNotWatching, Err: coord.ErrClosed}
			return
		}
		out <- coord.Event{Type: eventType(ev.Type), Path: ev.Path, Err: mapError(ev.Err)}
	}()
	return out
}

func eventType(t zk.EventType) coord.EventType {
	switch t {
	case zk.EventNodeCreated:
		return coord.EventNodeCreated
	case zk.EventNodeDataChanged:
		return coord.EventNodeDataChanged
	case zk.EventNodeDeleted:
		return coord.EventNodeDeleted
	default:
		return coord.EventNotWatching
	}
}

func toStat(stat *zk.Stat) coord.Stat {
	if stat == nil {
		return coord.Stat{}
	}
	return coord.Stat{Version: stat.Version}
}

// mapError converts zk sentinels into coord sentinels, keeping the original in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return fmt.Errorf("%w: %v", coord.ErrNoNode, err)
	case errors.Is(err, zk.ErrNodeExists):
		return fmt.Errorf("%w: %v", coord.ErrNodeExists, err)
	case errors.Is(err, zk.ErrBadVersion):
		return fmt.Errorf("%w: %v", coord.ErrBadVersion, err)
	case errors.Is(err, zk.ErrClosing), errors.Is(err, zk.ErrConnectionClosed):
		return fmt.Errorf("%w: %v", coord.ErrClosed, err)
	default:
		return err
	}
}

func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	ch := make(chan result, 1)
	go func() {
		value, err := fn()
		ch <- result{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		return res.value, res.err
	}
}

// printfLogger routes the zk library's printf logging into slog.
type printfLogger struct {
	logger *slog.Logger
}

func (l printfLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "zk")
}
