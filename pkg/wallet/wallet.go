// Package wallet is the client-side state of one operator: nym keys,
// asset accounts, contacts, the offer cache and the payments inbox. It
// adapts that state and a notary connection to what the offer reconciler
// and the confirmation protocol need.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/confirm"
	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/p2p"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

var (
	ErrUnknownContact   = errors.New("no contact matches")
	ErrAmbiguousContact = errors.New("contact is ambiguous")
)

type Config struct {
	DataDir   string
	NotaryURL string
	ServerID  string
	Timeout   time.Duration
	Clock     util.Clock
	Log       *zap.SugaredLogger
}

// Wallet talks to a single notary.
type Wallet struct {
	store    *Store
	client   *notary.Client
	serverID string
	net      *p2p.Libp2pNet
	clock    util.Clock
	log      *zap.SugaredLogger

	muKeys  sync.Mutex
	signers map[string]*crypto.Signer
}

var (
	_ confirm.Wallet    = (*Wallet)(nil)
	_ confirm.Notary    = (*Wallet)(nil)
	_ confirm.Messenger = (*Wallet)(nil)
	_ offer.OfferSource = (*Wallet)(nil)
	_ notary.KeyStore   = (*Wallet)(nil)
)

func Open(cfg Config) (*Wallet, error) {
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("wallet needs a server id")
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	store, err := OpenStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	w := &Wallet{
		store:    store,
		serverID: cfg.ServerID,
		clock:    cfg.Clock,
		log:      cfg.Log,
		signers:  make(map[string]*crypto.Signer),
	}
	w.client = notary.NewClient(cfg.NotaryURL, cfg.ServerID, w, cfg.Timeout, cfg.Log)
	return w, nil
}

func (w *Wallet) Close() error { return w.store.Close() }

func (w *Wallet) ServerID() string { return w.serverID }

func (w *Wallet) Store() *Store { return w.store }

func (w *Wallet) Notary() *notary.Client { return w.client }

// AttachNet routes outgoing instruments over libp2p and accepts envelopes
// for local nyms into the payments inbox.
func (w *Wallet) AttachNet(n *p2p.Libp2pNet) {
	w.net = n
	n.SetHandler(w.DeliverEnvelope)
}

// ==============================
// Nyms
// ==============================

// CreateNym generates a key, stores it and registers the nym on the notary.
func (w *Wallet) CreateNym(ctx context.Context, name string) (NymRecord, error) {
	s, err := crypto.GenerateKey()
	if err != nil {
		return NymRecord{}, err
	}
	return w.addNym(ctx, name, s)
}

// ImportNym adds an existing key.
func (w *Wallet) ImportNym(ctx context.Context, name, privateKeyHex string) (NymRecord, error) {
	s, err := crypto.FromPrivateKeyHex(privateKeyHex)
	if err != nil {
		return NymRecord{}, err
	}
	return w.addNym(ctx, name, s)
}

func (w *Wallet) addNym(ctx context.Context, name string, s *crypto.Signer) (NymRecord, error) {
	rec := NymRecord{
		NymID:      s.NymID(),
		Name:       name,
		PrivateKey: s.PrivateKeyHex(),
		CreatedAt:  w.clock.Now().Unix(),
	}
	if err := w.store.PutNym(rec); err != nil {
		return NymRecord{}, err
	}
	w.muKeys.Lock()
	w.signers[rec.NymID] = s
	w.muKeys.Unlock()

	if err := w.client.RegisterNym(ctx, rec.NymID); err != nil {
		return rec, fmt.Errorf("register %s on %s: %w", rec.NymID, w.serverID, err)
	}
	w.log.Infow("nym_created", "nym", rec.NymID, "name", name, "server", w.serverID)
	return rec, nil
}

func (w *Wallet) Nyms() ([]NymRecord, error) { return w.store.Nyms() }

// ResolveNym accepts a local nym id or name. An empty selector picks the
// only nym when there is exactly one.
func (w *Wallet) ResolveNym(selector string) (string, error) {
	nyms, err := w.store.Nyms()
	if err != nil {
		return "", err
	}
	if selector == "" {
		if len(nyms) == 1 {
			return nyms[0].NymID, nil
		}
		return "", fmt.Errorf("%w: %d nyms in wallet, pick one", ErrUnknownNym, len(nyms))
	}
	for _, n := range nyms {
		if strings.EqualFold(n.NymID, selector) || n.Name == selector {
			return n.NymID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownNym, selector)
}

func (w *Wallet) isLocal(nymID string) bool {
	_, err := w.store.Nym(crypto.NormalizeNymID(nymID))
	return err == nil
}

// Signer loads the nym's key.
func (w *Wallet) Signer(nymID string) (*crypto.Signer, error) {
	if crypto.IsNymID(nymID) {
		nymID = crypto.NormalizeNymID(nymID)
	}
	w.muKeys.Lock()
	defer w.muKeys.Unlock()
	if s, ok := w.signers[nymID]; ok {
		return s, nil
	}
	rec, err := w.store.Nym(nymID)
	if err != nil {
		return nil, err
	}
	s, err := crypto.FromPrivateKeyHex(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load key of %s: %w", nymID, err)
	}
	w.signers[nymID] = s
	return s, nil
}

func (w *Wallet) IsRegistered(ctx context.Context, nymID, serverID string) (bool, error) {
	return w.client.IsRegistered(ctx, nymID, serverID)
}

// ==============================
// Accounts
// ==============================

func (w *Wallet) RegisterAccount(ctx context.Context, nymID, name, instrumentDefinitionID string, initialBalance int64) (confirm.Account, error) {
	acct, err := w.client.RegisterAccount(ctx, nymID, name, instrumentDefinitionID, initialBalance)
	if err != nil {
		return confirm.Account{}, err
	}
	a := fromNotary(acct)
	if err := w.store.PutAccount(a); err != nil {
		return confirm.Account{}, err
	}
	w.log.Infow("account_created", "nym", crypto.ShortID(nymID), "account", a.ID, "instrument", instrumentDefinitionID)
	return a, nil
}

// RefreshAccounts pulls the nym's accounts and balances from the notary.
func (w *Wallet) RefreshAccounts(ctx context.Context, nymID string) ([]confirm.Account, error) {
	accts, err := w.client.Accounts(ctx, nymID)
	if err != nil {
		return nil, err
	}
	out := make([]confirm.Account, 0, len(accts))
	for _, acct := range accts {
		a := fromNotary(acct)
		if err := w.store.PutAccount(a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Accounts lists every locally known account, of every nym.
func (w *Wallet) Accounts(ctx context.Context) ([]confirm.Account, error) {
	return w.store.Accounts()
}

func fromNotary(a notary.Account) confirm.Account {
	return confirm.Account{
		ID:                     a.ID,
		Name:                   a.Name,
		NymID:                  a.NymID,
		ServerID:               a.ServerID,
		InstrumentDefinitionID: a.InstrumentDefinitionID,
		Balance:                a.Balance,
	}
}

// ==============================
// Contacts
// ==============================

func (w *Wallet) AddContact(name, nymID, peerAddr string) error {
	if name == "" || !crypto.IsNymID(nymID) {
		return fmt.Errorf("contact needs a name and a nym id")
	}
	return w.store.PutContact(Contact{Name: name, NymID: crypto.NormalizeNymID(nymID), PeerAddr: peerAddr})
}

func (w *Wallet) Contacts() ([]Contact, error) { return w.store.Contacts() }

// ResolveContact maps a full nym id, a contact name, or a unique prefix of
// either to a nym id.
func (w *Wallet) ResolveContact(ctx context.Context, partial string) (string, error) {
	partial = strings.TrimSpace(partial)
	if crypto.IsNymID(partial) {
		return crypto.NormalizeNymID(partial), nil
	}
	if partial == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownContact)
	}
	contacts, err := w.store.Contacts()
	if err != nil {
		return "", err
	}
	var matches []Contact
	for _, c := range contacts {
		if c.Name == partial {
			return c.NymID, nil
		}
		if strings.HasPrefix(c.Name, partial) || strings.HasPrefix(strings.ToLower(c.NymID), strings.ToLower(partial)) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %q", ErrUnknownContact, partial)
	case 1:
		return matches[0].NymID, nil
	default:
		return "", fmt.Errorf("%w: %q matches %d contacts", ErrAmbiguousContact, partial, len(matches))
	}
}

func (w *Wallet) contactFor(nymID string) (Contact, bool) {
	contacts, err := w.store.Contacts()
	if err != nil {
		return Contact{}, false
	}
	for _, c := range contacts {
		if strings.EqualFold(c.NymID, nymID) {
			return c, true
		}
	}
	return Contact{}, false
}

// ==============================
// Transaction numbers, activation, inbox
// ==============================

func (w *Wallet) ReserveNumbers(ctx context.Context, nymID, serverID string, count int) ([]int64, error) {
	return w.client.ReserveNumbers(ctx, nymID, serverID, count)
}

func (w *Wallet) HarvestNumbers(ctx context.Context, nymID, serverID string, numbers []int64) error {
	return w.client.HarvestNumbers(ctx, nymID, serverID, numbers)
}

func (w *Wallet) ActivateSmartContract(ctx context.Context, nymID, serverID, accountID, agentName string, doc contract.Document) error {
	return w.client.ActivateSmartContract(ctx, nymID, serverID, accountID, agentName, doc)
}

// ProcessInbox accepts the account's receipts and refreshes balances.
func (w *Wallet) ProcessInbox(ctx context.Context, nymID, serverID, accountID string) error {
	receipts, err := w.client.ProcessInbox(ctx, nymID, serverID, accountID)
	if err != nil {
		return err
	}
	w.log.Infow("inbox_processed", "account", accountID, "receipts", len(receipts))
	_, err = w.RefreshAccounts(ctx, nymID)
	return err
}

// ==============================
// Offers
// ==============================

// LoadOffers refreshes the offer cache from the notary and returns its records.
func (w *Wallet) LoadOffers(ctx context.Context, nymID, serverID string) ([]offer.Record, error) {
	offers, err := w.client.DownloadOffers(ctx, nymID, serverID)
	if err != nil {
		return nil, err
	}
	records := make([]offer.Record, 0, len(offers))
	for _, o := range offers {
		r, err := offer.EncodeRecord(o)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := w.store.ReplaceOffers(nymID, serverID, records); err != nil {
		return nil, err
	}
	return w.store.OfferRecords(nymID, serverID)
}

func (w *Wallet) CancelOffer(ctx context.Context, nymID, serverID, accountID string, transactionID int64) error {
	if err := w.client.CancelOffer(ctx, nymID, serverID, accountID, transactionID); err != nil {
		return err
	}
	return w.store.DeleteOffer(nymID, serverID, transactionID)
}

// PlaceOffer spends one fresh transaction number on o. The number is
// harvested if the notary refuses the offer.
func (w *Wallet) PlaceOffer(ctx context.Context, nymID string, o offer.Offer) (notary.PlaceOfferResult, error) {
	nums, err := w.client.ReserveNumbers(ctx, nymID, w.serverID, 1)
	if err != nil {
		return notary.PlaceOfferResult{}, err
	}
	o.TransactionID = nums[0]
	res, err := w.client.PlaceOffer(ctx, nymID, w.serverID, o)
	if err != nil {
		if herr := w.client.HarvestNumbers(ctx, nymID, w.serverID, nums); herr != nil {
			w.log.Warnw("harvest_failed", "nym", crypto.ShortID(nymID), "numbers", nums, "err", herr)
		}
		return notary.PlaceOfferResult{}, err
	}
	w.log.Infow("offer_placed", "nym", crypto.ShortID(nymID), "tx", o.TransactionID, "fills", len(res.Fills), "resting", res.Resting)
	return res, nil
}
