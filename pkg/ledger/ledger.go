// Package ledger is the development notary's state: nyms, asset accounts,
// issued transaction numbers, resting offers, active contracts and inboxes,
// persisted in Pebble.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/market"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/storage"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

var (
	ErrNotRegistered     = errors.New("nym not registered")
	ErrUnknownAccount    = errors.New("unknown account")
	ErrNotOwner          = errors.New("account not owned by nym")
	ErrBadNumber         = errors.New("transaction number not reserved by nym")
	ErrUnknownOffer      = errors.New("unknown offer")
	ErrInvalidOffer      = errors.New("invalid offer")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrActivation        = errors.New("activation refused")
	ErrDuplicateContract = errors.New("contract already active")
	ErrInvalidRequest    = errors.New("invalid request")
)

const maxReserve = 100

type numberState string

const (
	numberReserved  numberState = "reserved"
	numberAvailable numberState = "available" // harvested, may be reserved again
)

type numberRecord struct {
	Number int64       `json:"number"`
	State  numberState `json:"state"`
}

type nymRecord struct {
	NymID        string `json:"nym_id"`
	RegisteredAt int64  `json:"registered_at"`
}

type counters struct {
	NextNumber int64 `json:"next_number"`
	NextSeq    int64 `json:"next_seq"`
}

var countersKey = storage.Key("meta", "counters")

// Ledger serializes every mutation behind one mutex, like a single-threaded notary.
type Ledger struct {
	mu       sync.Mutex
	db       *storage.DB
	serverID string
	books    *market.Registry
	counters counters
	clock    util.Clock
	log      *zap.SugaredLogger
}

// Open loads (or creates) the ledger at path and rebuilds the order books.
func Open(path, serverID string, clock util.Clock, log *zap.SugaredLogger) (*Ledger, error) {
	if serverID == "" {
		return nil, fmt.Errorf("empty server id")
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	db, err := storage.Open(path, storage.Options{})
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		db:       db,
		serverID: serverID,
		books:    market.NewRegistry(),
		counters: counters{NextNumber: 1, NextSeq: 1},
		clock:    clock,
		log:      log,
	}
	if _, err := db.GetJSON(countersKey, &l.counters); err != nil {
		db.Close()
		return nil, err
	}

	restored := 0
	err = db.Scan(storage.Prefix("offer"), func(_, v []byte) error {
		var o offer.Offer
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		restored++
		return l.books.Book(o.Key()).Restore(o)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("restore offers: %w", err)
	}
	log.Infow("ledger_opened", "path", path, "server", serverID, "offers", restored,
		"next_number", l.counters.NextNumber)
	return l, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) ServerID() string { return l.serverID }

// Books exposes the order books for read-only market data.
func (l *Ledger) Books() *market.Registry { return l.books }

func (l *Ledger) now() int64 { return l.clock.Now().Unix() }

func (l *Ledger) RegisterNym(nymID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.db.Has(storage.Key("nym", nymID))
	if err != nil || ok {
		return err
	}
	if err := l.db.PutJSON(storage.Key("nym", nymID), nymRecord{NymID: nymID, RegisteredAt: l.now()}, true); err != nil {
		return err
	}
	l.log.Infow("nym_registered", "nym", nymID)
	return nil
}

func (l *Ledger) IsRegistered(nymID string) (bool, error) {
	return l.db.Has(storage.Key("nym", nymID))
}

func (l *Ledger) requireNym(nymID string) error {
	ok, err := l.IsRegistered(nymID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, nymID)
	}
	return nil
}

// RegisterAccount opens an asset account for a registered nym.
func (l *Ledger) RegisterAccount(nymID, name, instrumentDefinitionID string, initialBalance int64) (notary.Account, error) {
	if instrumentDefinitionID == "" || initialBalance < 0 {
		return notary.Account{}, fmt.Errorf("%w: account needs an instrument definition and a non-negative balance", ErrInvalidRequest)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireNym(nymID); err != nil {
		return notary.Account{}, err
	}

	acct := notary.Account{
		ID:                     uuid.NewString(),
		Name:                   name,
		NymID:                  nymID,
		ServerID:               l.serverID,
		InstrumentDefinitionID: instrumentDefinitionID,
		Balance:                initialBalance,
	}
	b := l.db.NewBatch()
	if err := b.PutJSON(storage.Key("acct", acct.ID), acct); err != nil {
		b.Discard()
		return notary.Account{}, err
	}
	if err := b.PutJSON(storage.Key("nymacct", nymID, acct.ID), acct.ID); err != nil {
		b.Discard()
		return notary.Account{}, err
	}
	if err := b.Commit(); err != nil {
		return notary.Account{}, err
	}
	l.log.Infow("account_registered", "nym", nymID, "account", acct.ID, "instrument", instrumentDefinitionID)
	return acct, nil
}

func (l *Ledger) Account(id string) (notary.Account, error) {
	var acct notary.Account
	ok, err := l.db.GetJSON(storage.Key("acct", id), &acct)
	if err != nil {
		return notary.Account{}, err
	}
	if !ok {
		return notary.Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return acct, nil
}

// Accounts lists the nym's accounts.
func (l *Ledger) Accounts(nymID string) ([]notary.Account, error) {
	var ids []string
	err := l.db.Scan(storage.Prefix("nymacct", nymID), func(k, _ []byte) error {
		ids = append(ids, storage.LastComponent(k))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]notary.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := l.Account(id)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (l *Ledger) ownedAccount(nymID, id string) (notary.Account, error) {
	acct, err := l.Account(id)
	if err != nil {
		return notary.Account{}, err
	}
	if acct.NymID != nymID {
		return notary.Account{}, fmt.Errorf("%w: %s", ErrNotOwner, id)
	}
	return acct, nil
}
