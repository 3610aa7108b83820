package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/storage"
)

// SendPayment drops an armored instrument into the recipient's payments inbox.
func (l *Ledger) SendPayment(senderNym, recipientNym, instrument string) (notary.Payment, error) {
	if instrument == "" {
		return notary.Payment{}, fmt.Errorf("%w: empty instrument", ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireNym(senderNym); err != nil {
		return notary.Payment{}, err
	}
	if err := l.requireNym(recipientNym); err != nil {
		return notary.Payment{}, err
	}

	t := l.begin()
	p := notary.Payment{Index: t.seq(), SenderNym: senderNym, Instrument: instrument, ReceivedAt: l.now()}
	if err := t.put(storage.Key("pay", recipientNym, storage.Num(p.Index)), p); err != nil {
		t.discard()
		return notary.Payment{}, err
	}
	if _, err := t.commit(); err != nil {
		return notary.Payment{}, err
	}
	l.log.Infow("payment_received", "from", senderNym, "to", recipientNym, "index", p.Index)
	return p, nil
}

// FetchPayments hands over and clears the nym's payments inbox.
func (l *Ledger) FetchPayments(nymID string) ([]notary.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireNym(nymID); err != nil {
		return nil, err
	}

	var out []notary.Payment
	b := l.db.NewBatch()
	err := l.db.Scan(storage.Prefix("pay", nymID), func(k, v []byte) error {
		var p notary.Payment
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		out = append(out, p)
		return b.Delete(k)
	})
	if err != nil {
		b.Discard()
		return nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessInbox returns and clears the receipts waiting on an account.
func (l *Ledger) ProcessInbox(nymID, accountID string) ([]notary.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.ownedAccount(nymID, accountID); err != nil {
		return nil, err
	}

	var out []notary.Receipt
	b := l.db.NewBatch()
	err := l.db.Scan(storage.Prefix("inbox", accountID), func(k, v []byte) error {
		var r notary.Receipt
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		out = append(out, r)
		return b.Delete(k)
	})
	if err != nil {
		b.Discard()
		return nil, err
	}
	if err := b.Commit(); err != nil {
		return nil, err
	}
	l.log.Debugw("inbox_processed", "account", accountID, "receipts", len(out))
	return out, nil
}
