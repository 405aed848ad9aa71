package ledger

import (
	"context"
	"errors"
	"fmt"

	tb "github.com/tigerbeetle/tigerbeetle-go"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// Client is the subset of the TigerBeetle client the store needs.
type Client interface {
	CreateAccounts(accounts []tbtypes.Account) ([]tbtypes.AccountEventResult, error)
	CreateTransfers(transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error)
	LookupAccounts(ids []tbtypes.Uint128) ([]tbtypes.Account, error)
	Close()
}

// Pool hands out a fixed set of client sessions.
type Pool struct {
	clients   []Client
	available chan Client
}

// Dial opens sessions clients against a TigerBeetle cluster.
func Dial(clusterID uint32, addresses []string, sessions int) (*Pool, error) {
	if len(addresses) == 0 {
		return nil, errors.New("ledger: no addresses")
	}
	if sessions <= 0 {
		sessions = 1
	}
	cluster := tbtypes.ToUint128(uint64(clusterID))
	clients := make([]Client, 0, sessions)
	for i := 0; i < sessions; i++ {
		client, err := tb.NewClient(cluster, addresses)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("create TB client: %w", err)
		}
		clients = append(clients, client)
	}
	return NewPool(clients...), nil
}

// NewPool wraps already connected clients.
func NewPool(clients ...Client) *Pool {
	available := make(chan Client, len(clients))
	for _, c := range clients {
		available <- c
	}
	return &Pool{clients: clients, available: available}
}

// Acquire returns a client or the context error.
func (p *Pool) Acquire(ctx context.Context) (Client, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case client := <-p.available:
		return client, nil
	}
}

// Release returns a client to the pool.
func (p *Pool) Release(client Client) {
	if client == nil {
		return
	}
	p.available <- client
}

// Close shuts down every session.
func (p *Pool) Close() error {
	for _, client := range p.clients {
		client.Close()
	}
	return nil
}

// with runs fn on a pooled client, giving up when ctx ends.
func with[T any](ctx context.Context, p *Pool, fn func(Client) (T, error)) (T, error) {
	var zero T
	client, err := p.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		// The client goes back only once the call returns.
		defer p.Release(client)
		value, err := fn(client)
		ch <- result{value: value, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		return res.value, res.err
	}
}
