package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/uhyunpark/otxwallet/pkg/confirm"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/storage"
)

var (
	ErrUnknownNym     = errors.New("unknown nym")
	ErrUnknownPayment = errors.New("no such payment in inbox")
)

// NymRecord is a local identity. The key is stored unencrypted; this is a
// development wallet.
type NymRecord struct {
	NymID      string `json:"nym_id"`
	Name       string `json:"name"`
	PrivateKey string `json:"private_key"`
	CreatedAt  int64  `json:"created_at"`
}

type Contact struct {
	Name     string `json:"name"`
	NymID    string `json:"nym_id"`
	PeerAddr string `json:"peer_addr,omitempty"` // libp2p /p2p multiaddr, optional
}

// InboxItem is an instrument waiting for the nym, from the notary or a peer.
type InboxItem struct {
	Index      int    `json:"index"`
	ServerID   string `json:"server_id"`
	SenderNym  string `json:"sender_nym_id"`
	Instrument string `json:"instrument"`
	Source     string `json:"source"` // "notary" or "p2p"
	ReceivedAt int64  `json:"received_at"`
}

// Store is the wallet's pebble database.
type Store struct {
	db *storage.DB
	mu sync.Mutex // serializes inbox index allocation
}

var paySeqKey = storage.Key("meta", "payseq")

func OpenStore(path string) (*Store, error) {
	db, err := storage.Open(path, storage.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) PutNym(n NymRecord) error {
	return s.db.PutJSON(storage.Key("nym", n.NymID), n, true)
}

func (s *Store) Nym(nymID string) (NymRecord, error) {
	var n NymRecord
	ok, err := s.db.GetJSON(storage.Key("nym", nymID), &n)
	if err != nil {
		return NymRecord{}, err
	}
	if !ok {
		return NymRecord{}, fmt.Errorf("%w: %s", ErrUnknownNym, nymID)
	}
	return n, nil
}

func (s *Store) Nyms() ([]NymRecord, error) {
	var out []NymRecord
	err := s.db.Scan(storage.Prefix("nym"), func(_, v []byte) error {
		var n NymRecord
		if err := json.Unmarshal(v, &n); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

func (s *Store) PutAccount(a confirm.Account) error {
	return s.db.PutJSON(storage.Key("acct", a.ID), a, false)
}

func (s *Store) Accounts() ([]confirm.Account, error) {
	var out []confirm.Account
	err := s.db.Scan(storage.Prefix("acct"), func(_, v []byte) error {
		var a confirm.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *Store) PutContact(c Contact) error {
	return s.db.PutJSON(storage.Key("contact", c.Name), c, false)
}

func (s *Store) Contacts() ([]Contact, error) {
	var out []Contact
	err := s.db.Scan(storage.Prefix("contact"), func(_, v []byte) error {
		var c Contact
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// ReplaceOffers swaps the cached offers of nym on server for records.
func (s *Store) ReplaceOffers(nymID, serverID string, records []offer.Record) error {
	prefix := storage.Prefix("offers", nymID, serverID)
	b := s.db.NewBatch()
	err := s.db.Scan(prefix, func(k, _ []byte) error { return b.Delete(k) })
	if err != nil {
		b.Discard()
		return err
	}
	for _, r := range records {
		var head struct {
			TransactionID int64 `json:"transaction_id"`
		}
		if err := json.Unmarshal(r, &head); err != nil {
			b.Discard()
			return fmt.Errorf("cache offer: %w", err)
		}
		key := storage.Key("offers", nymID, serverID, storage.Num(head.TransactionID))
		if err := b.PutJSON(key, json.RawMessage(r)); err != nil {
			b.Discard()
			return err
		}
	}
	return b.Commit()
}

// OfferRecords returns the cached offer records, unparsed.
func (s *Store) OfferRecords(nymID, serverID string) ([]offer.Record, error) {
	var out []offer.Record
	err := s.db.Scan(storage.Prefix("offers", nymID, serverID), func(_, v []byte) error {
		out = append(out, offer.Record(append([]byte(nil), v...)))
		return nil
	})
	return out, err
}

func (s *Store) DeleteOffer(nymID, serverID string, transactionID int64) error {
	return s.db.Delete(storage.Key("offers", nymID, serverID, storage.Num(transactionID)))
}

// AddPayment appends item to the nym's inbox and returns its index.
func (s *Store) AddPayment(nymID string, item InboxItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next int64
	if _, err := s.db.GetJSON(paySeqKey, &next); err != nil {
		return 0, err
	}
	item.Index = int(next)
	b := s.db.NewBatch()
	if err := b.PutJSON(storage.Key("pay", nymID, storage.Num(next)), item); err != nil {
		b.Discard()
		return 0, err
	}
	if err := b.PutJSON(paySeqKey, next+1); err != nil {
		b.Discard()
		return 0, err
	}
	if err := b.Commit(); err != nil {
		return 0, err
	}
	return item.Index, nil
}

func (s *Store) Payments(nymID string) ([]InboxItem, error) {
	return s.items("pay", nymID)
}

func (s *Store) RecordBox(nymID string) ([]InboxItem, error) {
	return s.items("rec", nymID)
}

func (s *Store) items(box, nymID string) ([]InboxItem, error) {
	var out []InboxItem
	err := s.db.Scan(storage.Prefix(box, nymID), func(_, v []byte) error {
		var it InboxItem
		if err := json.Unmarshal(v, &it); err != nil {
			return err
		}
		out = append(out, it)
		return nil
	})
	return out, err
}

func (s *Store) Payment(nymID string, index int) (InboxItem, error) {
	var it InboxItem
	ok, err := s.db.GetJSON(storage.Key("pay", nymID, storage.Num(int64(index))), &it)
	if err != nil {
		return InboxItem{}, err
	}
	if !ok {
		return InboxItem{}, fmt.Errorf("%w: %d", ErrUnknownPayment, index)
	}
	return it, nil
}

func (s *Store) RemovePayment(nymID string, index int) error {
	if _, err := s.Payment(nymID, index); err != nil {
		return err
	}
	return s.db.Delete(storage.Key("pay", nymID, storage.Num(int64(index))))
}

// MoveToRecordBox archives an inbox item under the same index.
func (s *Store) MoveToRecordBox(nymID string, index int) error {
	it, err := s.Payment(nymID, index)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	if err := b.PutJSON(storage.Key("rec", nymID, storage.Num(int64(index))), it); err != nil {
		b.Discard()
		return err
	}
	if err := b.Delete(storage.Key("pay", nymID, storage.Num(int64(index)))); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}
