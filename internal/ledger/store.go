package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"tally/internal/coord"
	"tally/internal/counter"
	"tally/internal/logging"
)

const (
	ledgerCounters = 1
	codeCounter    = 1
)

// ErrAccountMissing is returned for reads of a counter that was never ensured.
var ErrAccountMissing = errors.New("ledger: account not found")

// Store keeps each counter as a TigerBeetle account. Increments are posted
// transfers against a shared operator account.
type Store struct {
	pool   *Pool
	logger *slog.Logger
}

// NewStore builds a store over pool.
func NewStore(pool *Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logging.OrDiscard(logger)}
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// EnsurePath creates the operator and counter accounts. Existing accounts
// are fine.
func (s *Store) EnsurePath(ctx context.Context, path string) error {
	accounts := []tbtypes.Account{
		{ID: OperatorAccountID(), Ledger: ledgerCounters, Code: codeCounter},
		{ID: CounterAccountID(path), Ledger: ledgerCounters, Code: codeCounter},
	}
	results, err := with(ctx, s.pool, func(c Client) ([]tbtypes.AccountEventResult, error) {
		return c.CreateAccounts(accounts)
	})
	if err != nil {
		return fmt.Errorf("create accounts for %s: %w", path, err)
	}
	for _, result := range results {
		if result.Result == tbtypes.AccountExists {
			continue
		}
		return fmt.Errorf("create account for %s: %s", path, result.Result)
	}
	return nil
}

// Handle binds a counter to its account.
func (s *Store) Handle(path string) counter.Atomic {
	return &account{store: s, path: path, id: CounterAccountID(path)}
}

// account implements counter.Atomic over one TigerBeetle account.
type account struct {
	store *Store
	path  string
	id    tbtypes.Uint128
}

// Add posts delta under a fresh transfer id. Callers that retry must use
// AddOnce.
func (a *account) Add(ctx context.Context, delta int64) (coord.AtomicValue, error) {
	return a.AddOnce(ctx, uuid.New(), delta)
}

// AddOnce posts delta as the transfer keyed by id. A transfer TB already
// holds under id counts as posted, so a retry after a lost reply or a failed
// balance read does not post twice. PreValue is derived from the
// post-transfer balance.
func (a *account) AddOnce(ctx context.Context, id uuid.UUID, delta int64) (coord.AtomicValue, error) {
	if delta != 0 {
		if err := a.post(ctx, TransferID(id), delta); err != nil {
			return coord.AtomicValue{}, err
		}
	}
	post, err := a.value(ctx)
	if err != nil {
		return coord.AtomicValue{}, err
	}
	return coord.AtomicValue{Succeeded: true, PreValue: post - delta, PostValue: post}, nil
}

// Subtract posts -delta.
func (a *account) Subtract(ctx context.Context, delta int64) (coord.AtomicValue, error) {
	return a.Add(ctx, -delta)
}

// Get reads the balance.
func (a *account) Get(ctx context.Context) (coord.AtomicValue, error) {
	value, err := a.value(ctx)
	if err != nil {
		return coord.AtomicValue{}, err
	}
	return coord.AtomicValue{Succeeded: true, PreValue: value, PostValue: value}, nil
}

func (a *account) post(ctx context.Context, id tbtypes.Uint128, delta int64) error {
	transfer := tbtypes.Transfer{
		ID:              id,
		DebitAccountID:  OperatorAccountID(),
		CreditAccountID: a.id,
		Ledger:          ledgerCounters,
		Code:            codeCounter,
	}
	amount := uint64(delta)
	if delta < 0 {
		transfer.DebitAccountID, transfer.CreditAccountID = a.id, OperatorAccountID()
		amount = uint64(-delta)
	}
	transfer.Amount = tbtypes.ToUint128(amount)
	results, err := with(ctx, a.store.pool, func(c Client) ([]tbtypes.TransferEventResult, error) {
		return c.CreateTransfers([]tbtypes.Transfer{transfer})
	})
	if err != nil {
		return fmt.Errorf("post transfer to %s: %w", a.path, err)
	}
	if len(results) > 0 {
		if results[0].Result == tbtypes.TransferExists {
			a.store.logger.Debug("transfer already posted", "path", a.path, "delta", delta)
			return nil
		}
		return fmt.Errorf("post transfer to %s: %s", a.path, results[0].Result)
	}
	a.store.logger.Debug("transfer posted", "path", a.path, "delta", delta)
	return nil
}

func (a *account) value(ctx context.Context) (int64, error) {
	accounts, err := with(ctx, a.store.pool, func(c Client) ([]tbtypes.Account, error) {
		return c.LookupAccounts([]tbtypes.Uint128{a.id})
	})
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", a.path, err)
	}
	if len(accounts) == 0 {
		return 0, fmt.Errorf("lookup %s: %w", a.path, ErrAccountMissing)
	}
	value, err := balance(accounts[0])
	if err != nil {
		return 0, fmt.Errorf("lookup %s: %w", a.path, err)
	}
	return value, nil
}
