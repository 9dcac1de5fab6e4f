package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/service"
)

// fakeLedger implements service.LedgerAccess in memory, counting every
// call so tests can assert exactly which write paths ran.
type fakeLedger struct {
	clearedMilli   int64
	transactions   []model.LedgerTransaction
	knownImportIDs map[string]bool

	bulkErr    error // returned by every CreateTransactions call
	createErr  error // returned by every CreateTransaction call
	updateErr  error // returned by every UpdateTransactions call
	accountErr error

	// dropFromBulkResponse silently loses the first N bulk drafts:
	// they are neither stored nor reported back.
	dropFromBulkResponse int

	getAccountCalls int
	getTxnCalls     int
	createCalls     int
	bulkCalls       int
	updateCalls     int
	nextID          int
}

func newFakeLedger(clearedMilli int64) *fakeLedger {
	return &fakeLedger{
		clearedMilli:   clearedMilli,
		knownImportIDs: make(map[string]bool),
	}
}

func (f *fakeLedger) writeCalls() int {
	return f.createCalls + f.bulkCalls + f.updateCalls
}

func (f *fakeLedger) GetAccount(_ context.Context, _, accountID string) (*service.AccountSnapshot, error) {
	f.getAccountCalls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	return &service.AccountSnapshot{
		ID:                  accountID,
		Name:                "Chequing",
		ClearedBalanceMilli: f.clearedMilli,
		BalanceMilli:        f.clearedMilli,
	}, nil
}

func (f *fakeLedger) GetTransactions(_ context.Context, _, _ string, _ *time.Time) ([]model.LedgerTransaction, error) {
	f.getTxnCalls++
	out := make([]model.LedgerTransaction, len(f.transactions))
	copy(out, f.transactions)
	return out, nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, _ string, draft service.TransactionDraft) (*model.LedgerTransaction, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	created := f.store(draft)
	return &created, nil
}

func (f *fakeLedger) CreateTransactions(_ context.Context, _ string, drafts []service.TransactionDraft) (*service.BulkCreateResult, error) {
	f.bulkCalls++
	if f.bulkErr != nil {
		return nil, f.bulkErr
	}
	res := &service.BulkCreateResult{}
	for _, d := range drafts {
		if f.dropFromBulkResponse > 0 {
			f.dropFromBulkResponse--
			continue
		}
		if f.knownImportIDs[d.ImportID] {
			res.DuplicateImportIDs = append(res.DuplicateImportIDs, d.ImportID)
			continue
		}
		res.Created = append(res.Created, f.store(d))
	}
	return res, nil
}

func (f *fakeLedger) UpdateTransactions(_ context.Context, _ string, updates []service.TransactionUpdate) ([]model.LedgerTransaction, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	var updated []model.LedgerTransaction
	for _, u := range updates {
		for i := range f.transactions {
			if f.transactions[i].ID != u.ID {
				continue
			}
			t := &f.transactions[i]
			if u.Cleared != nil {
				if *u.Cleared == model.StatusCleared && t.Cleared == model.StatusUncleared {
					f.clearedMilli += t.AmountMilli
				}
				if *u.Cleared == model.StatusUncleared && t.Cleared == model.StatusCleared {
					f.clearedMilli -= t.AmountMilli
				}
				t.Cleared = *u.Cleared
			}
			if u.Date != nil {
				t.Date = *u.Date
			}
			updated = append(updated, *t)
		}
	}
	return updated, nil
}

// store appends a draft as a persisted transaction, registers its
// import id, and advances the cleared balance when the draft lands
// cleared.
func (f *fakeLedger) store(d service.TransactionDraft) model.LedgerTransaction {
	f.nextID++
	t := model.LedgerTransaction{
		ID:          fmt.Sprintf("txn-%d", f.nextID),
		Date:        d.Date,
		PayeeName:   d.PayeeName,
		Memo:        d.Memo,
		ImportID:    d.ImportID,
		Cleared:     d.Cleared,
		Approved:    d.Approved,
		AmountMilli: d.AmountMilli,
	}
	f.transactions = append(f.transactions, t)
	f.knownImportIDs[d.ImportID] = true
	if d.Cleared == model.StatusCleared || d.Cleared == model.StatusReconciled {
		f.clearedMilli += d.AmountMilli
	}
	return t
}
