package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

const server = "notary-1"

var created = time.Unix(1_700_000_000, 0)

const escrowYAML = `
type: SMARTCONTRACT
valid_for: 720h
parties:
  - name: alice
    agents: [alice_agent]
    accounts:
      - name: alice_usd
        instrument_definition_id: USD
  - name: bob
    accounts:
      - name: bob_usd
        instrument_definition_id: USD
      - name: bob_gold
        instrument_definition_id: GOLD
  - name: judy
    accounts:
      - name: judy_fee
        instrument_definition_id: USD
`

func escrow(t *testing.T) contract.Document {
	t.Helper()
	doc, err := contract.LoadTemplate(strings.NewReader(escrowYAML), created)
	require.NoError(t, err)
	return doc
}

type fakeNotary struct {
	next        int64
	reserveErr  error
	activateErr error
	inboxErr    error
	harvestErr  error

	reserved              [][]int64
	harvested             [][]int64
	activated             []contract.Document
	activatedFrom         []string
	inboxes               []string
	confirmedAtActivation []bool
}

func (n *fakeNotary) ReserveNumbers(ctx context.Context, nymID, serverID string, count int) ([]int64, error) {
	if n.reserveErr != nil {
		return nil, n.reserveErr
	}
	nums := make([]int64, count)
	for i := range nums {
		n.next++
		nums[i] = n.next
	}
	n.reserved = append(n.reserved, nums)
	return nums, nil
}

func (n *fakeNotary) HarvestNumbers(ctx context.Context, nymID, serverID string, numbers []int64) error {
	n.harvested = append(n.harvested, append([]int64(nil), numbers...))
	return n.harvestErr
}

func (n *fakeNotary) ActivateSmartContract(ctx context.Context, nymID, serverID, accountID, agentName string, doc contract.Document) error {
	n.confirmedAtActivation = append(n.confirmedAtActivation, doc.AreAllPartiesConfirmed())
	if n.activateErr != nil {
		return n.activateErr
	}
	n.activated = append(n.activated, doc)
	n.activatedFrom = append(n.activatedFrom, accountID+"/"+agentName)
	return nil
}

func (n *fakeNotary) ProcessInbox(ctx context.Context, nymID, serverID, accountID string) error {
	n.inboxes = append(n.inboxes, accountID)
	return n.inboxErr
}

type sent struct {
	from, to string
	doc      contract.Document
}

type fakeMessenger struct {
	err  error
	sent []sent
}

func (m *fakeMessenger) SendInstrument(ctx context.Context, nymID, serverID, recipientNymID string, doc contract.Document) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{from: nymID, to: recipientNymID, doc: doc})
	return nil
}

type fakeWallet struct {
	signers      map[string]*crypto.Signer
	accounts     []Account
	unregistered bool
	contacts     map[string]string
	removed      []int
	recorded     []int
}

func (w *fakeWallet) Accounts(ctx context.Context) ([]Account, error) { return w.accounts, nil }

func (w *fakeWallet) IsRegistered(ctx context.Context, nymID, serverID string) (bool, error) {
	return !w.unregistered, nil
}

func (w *fakeWallet) ResolveContact(ctx context.Context, partial string) (string, error) {
	if crypto.IsNymID(partial) {
		return crypto.NormalizeNymID(partial), nil
	}
	for name, nym := range w.contacts {
		if strings.HasPrefix(name, partial) {
			return nym, nil
		}
	}
	return "", fmt.Errorf("no contact matches %q", partial)
}

func (w *fakeWallet) RemovePayment(ctx context.Context, nymID string, index int) error {
	w.removed = append(w.removed, index)
	return nil
}

func (w *fakeWallet) MoveToRecordBox(ctx context.Context, nymID string, index int) error {
	w.recorded = append(w.recorded, index)
	return nil
}

func (w *fakeWallet) Signer(nymID string) (*crypto.Signer, error) {
	s, ok := w.signers[nymID]
	if !ok {
		return nil, errors.New("unknown nym")
	}
	return s, nil
}

// world holds three nyms sharing one wallet, notary and messenger.
type world struct {
	alice, bob, judy *crypto.Signer
	wallet           *fakeWallet
	notary           *fakeNotary
	messenger        *fakeMessenger
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{notary: &fakeNotary{next: 100}, messenger: &fakeMessenger{}}
	for _, s := range []**crypto.Signer{&w.alice, &w.bob, &w.judy} {
		k, err := crypto.GenerateKey()
		require.NoError(t, err)
		*s = k
	}
	w.wallet = &fakeWallet{
		signers: map[string]*crypto.Signer{
			w.alice.NymID(): w.alice,
			w.bob.NymID():   w.bob,
			w.judy.NymID():  w.judy,
		},
		accounts: []Account{
			{ID: "a-usd", NymID: w.alice.NymID(), ServerID: server, InstrumentDefinitionID: "USD"},
			{ID: "b-usd", NymID: w.bob.NymID(), ServerID: server, InstrumentDefinitionID: "USD"},
			{ID: "b-gold", NymID: w.bob.NymID(), ServerID: server, InstrumentDefinitionID: "GOLD"},
			{ID: "j-usd", NymID: w.judy.NymID(), ServerID: server, InstrumentDefinitionID: "USD"},
			{ID: "j-usd-other", NymID: w.judy.NymID(), ServerID: "notary-2", InstrumentDefinitionID: "USD"},
		},
		contacts: map[string]string{
			"bob":  w.bob.NymID(),
			"judy": w.judy.NymID(),
		},
	}
	return w
}

func (w *world) protocol(op operator.Operator) *Protocol {
	return New(Deps{
		Wallet:    w.wallet,
		Notary:    w.notary,
		Messenger: w.messenger,
		Plans:     NewPlanConfirmer(w.wallet, w.notary, w.messenger, op, nil),
		Operator:  op,
		Clock:     util.FixedClock{T: created.Add(time.Hour)},
	})
}

func (w *world) request(nym *crypto.Signer, recipient string) Request {
	return Request{ServerID: server, NymID: nym.NymID(), RecipientNymID: recipient, InboxIndex: -1}
}

func (w *world) lastSent(t *testing.T) contract.Document {
	t.Helper()
	require.NotEmpty(t, w.messenger.sent)
	return w.messenger.sent[len(w.messenger.sent)-1].doc
}
