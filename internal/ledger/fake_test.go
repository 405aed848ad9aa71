package ledger

import (
	"errors"
	"sync"

	tbtypes "github.com/tigerbeetle/tigerbeetle-go/pkg/types"
)

// fakeClient is an in-memory ledger with posted-transfer semantics.
type fakeClient struct {
	mu         sync.Mutex
	accounts   map[tbtypes.Uint128]tbtypes.Account
	posted     map[tbtypes.Uint128]bool
	transfers  int
	rejectNext tbtypes.CreateTransferResult
	failNext   error
	// lostReply posts the next batch and then reports it as failed.
	lostReply error
	// failLookups fails this many LookupAccounts calls.
	failLookups int
	closed      bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		accounts: map[tbtypes.Uint128]tbtypes.Account{},
		posted:   map[tbtypes.Uint128]bool{},
	}
}

func (f *fakeClient) CreateAccounts(accounts []tbtypes.Account) ([]tbtypes.AccountEventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []tbtypes.AccountEventResult
	for i, account := range accounts {
		if _, ok := f.accounts[account.ID]; ok {
			results = append(results, tbtypes.AccountEventResult{Index: uint32(i), Result: tbtypes.AccountExists})
			continue
		}
		f.accounts[account.ID] = account
	}
	return results, nil
}

func (f *fakeClient) CreateTransfers(transfers []tbtypes.Transfer) ([]tbtypes.TransferEventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	var results []tbtypes.TransferEventResult
	for i, transfer := range transfers {
		if f.rejectNext != 0 {
			results = append(results, tbtypes.TransferEventResult{Index: uint32(i), Result: f.rejectNext})
			f.rejectNext = 0
			continue
		}
		if f.posted[transfer.ID] {
			results = append(results, tbtypes.TransferEventResult{Index: uint32(i), Result: tbtypes.TransferExists})
			continue
		}
		debit, okDebit := f.accounts[transfer.DebitAccountID]
		credit, okCredit := f.accounts[transfer.CreditAccountID]
		if !okDebit || !okCredit {
			results = append(results, tbtypes.TransferEventResult{Index: uint32(i), Result: tbtypes.TransferDebitAccountNotFound})
			continue
		}
		amount := mustUint64(transfer.Amount)
		debit.DebitsPosted = tbtypes.ToUint128(mustUint64(debit.DebitsPosted) + amount)
		credit.CreditsPosted = tbtypes.ToUint128(mustUint64(credit.CreditsPosted) + amount)
		f.accounts[debit.ID] = debit
		f.accounts[credit.ID] = credit
		f.posted[transfer.ID] = true
		f.transfers++
	}
	if err := f.lostReply; err != nil {
		f.lostReply = nil
		return nil, err
	}
	return results, nil
}

func (f *fakeClient) LookupAccounts(ids []tbtypes.Uint128) ([]tbtypes.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLookups > 0 {
		f.failLookups--
		return nil, errUnavailable
	}
	var out []tbtypes.Account
	for _, id := range ids {
		if account, ok := f.accounts[id]; ok {
			out = append(out, account)
		}
	}
	return out, nil
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func mustUint64(value tbtypes.Uint128) uint64 {
	v, err := toUint64(value)
	if err != nil {
		panic(err)
	}
	return v
}

var errUnavailable = errors.New("cluster unavailable")
