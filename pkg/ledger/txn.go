package ledger

import (
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/storage"
)

// txn stages the writes of one ledger operation. Nothing is visible until commit.
// Callers hold l.mu.
type txn struct {
	l        *Ledger
	b        *storage.Batch
	accounts map[string]*notary.Account
	consumed map[int64]bool
	receipts []notary.Receipt
	c        counters
}

func (l *Ledger) begin() *txn {
	return &txn{
		l:        l,
		b:        l.db.NewBatch(),
		accounts: make(map[string]*notary.Account),
		consumed: make(map[int64]bool),
		c:        l.counters,
	}
}

func (t *txn) account(id string) (*notary.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	acct, err := t.l.Account(id)
	if err != nil {
		return nil, err
	}
	t.accounts[id] = &acct
	return &acct, nil
}

// transfer moves amount between two accounts of the same instrument and
// drops a receipt in both inboxes.
func (t *txn) transfer(fromID, toID string, amount int64, kind, ref string) error {
	if amount == 0 {
		return nil
	}
	if amount < 0 {
		return fmt.Errorf("%w: negative transfer", ErrInvalidRequest)
	}
	from, err := t.account(fromID)
	if err != nil {
		return err
	}
	to, err := t.account(toID)
	if err != nil {
		return err
	}
	if from.InstrumentDefinitionID != to.InstrumentDefinitionID {
		return fmt.Errorf("%w: %s to %s", ErrInvalidRequest, from.InstrumentDefinitionID, to.InstrumentDefinitionID)
	}
	if from.Balance < amount {
		return fmt.Errorf("%w: account %s has %d, needs %d", ErrInsufficientFunds, fromID, from.Balance, amount)
	}
	from.Balance -= amount
	to.Balance += amount
	t.receipt(fromID, kind, -amount, ref)
	t.receipt(toID, kind, amount, ref)
	return nil
}

func (t *txn) receipt(accountID, kind string, amount int64, ref string) {
	t.receipts = append(t.receipts, notary.Receipt{
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Ref:       ref,
		At:        t.l.now(),
	})
}

// consume burns transaction numbers reserved by nymID.
func (t *txn) consume(nymID string, numbers ...int64) error {
	for _, n := range numbers {
		if t.consumed[n] {
			return fmt.Errorf("%w: %d used twice", ErrBadNumber, n)
		}
		var rec numberRecord
		key := storage.Key("num", nymID, storage.Num(n))
		ok, err := t.l.db.GetJSON(key, &rec)
		if err != nil {
			return err
		}
		if !ok || rec.State != numberReserved {
			return fmt.Errorf("%w: %d", ErrBadNumber, n)
		}
		if err := t.b.Delete(key); err != nil {
			return err
		}
		t.consumed[n] = true
	}
	return nil
}

func (t *txn) put(key []byte, v any) error { return t.b.PutJSON(key, v) }

func (t *txn) del(key []byte) error { return t.b.Delete(key) }

func (t *txn) commit() ([]notary.Receipt, error) {
	for id, a := range t.accounts {
		if err := t.b.PutJSON(storage.Key("acct", id), a); err != nil {
			t.b.Discard()
			return nil, err
		}
	}
	for i := range t.receipts {
		t.receipts[i].Seq = t.seq()
		r := t.receipts[i]
		if err := t.b.PutJSON(storage.Key("inbox", r.AccountID, storage.Num(r.Seq)), r); err != nil {
			t.b.Discard()
			return nil, err
		}
	}
	if err := t.b.PutJSON(countersKey, t.c); err != nil {
		t.b.Discard()
		return nil, err
	}
	if err := t.b.Commit(); err != nil {
		return nil, err
	}
	t.l.counters = t.c
	return t.receipts, nil
}

func (t *txn) seq() int64 {
	s := t.c.NextSeq
	t.c.NextSeq++
	return s
}

func (t *txn) number() int64 {
	n := t.c.NextNumber
	t.c.NextNumber++
	return n
}

func (t *txn) discard() { t.b.Discard() }
