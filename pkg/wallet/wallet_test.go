package wallet

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otxwallet/pkg/api"
	"github.com/uhyunpark/otxwallet/pkg/confirm"
	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/ledger"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/p2p"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

const serverID = "notary-1"

var (
	created = time.Unix(1_700_000_000, 0)
	clock   = util.FixedClock{T: created.Add(time.Hour)}
)

type notaryEnv struct {
	ledger *ledger.Ledger
	url    string
}

func newNotary(t *testing.T) *notaryEnv {
	t.Helper()
	l, err := ledger.Open(t.TempDir(), serverID, clock, nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	srv := api.NewServer(l, []string{"*"}, nil)
	go srv.Hub().Run()
	t.Cleanup(srv.Hub().Stop)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &notaryEnv{ledger: l, url: ts.URL}
}

func newWallet(t *testing.T, n *notaryEnv) *Wallet {
	t.Helper()
	w, err := Open(Config{DataDir: t.TempDir(), NotaryURL: n.url, ServerID: serverID, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// person is a wallet holding a single nym with one account per instrument.
type person struct {
	w        *Wallet
	nym      string
	accounts map[string]confirm.Account
}

func newPerson(t *testing.T, n *notaryEnv, name string, instruments ...string) *person {
	t.Helper()
	ctx := context.Background()
	p := &person{w: newWallet(t, n), accounts: map[string]confirm.Account{}}
	rec, err := p.w.CreateNym(ctx, name)
	require.NoError(t, err)
	p.nym = rec.NymID
	for _, def := range instruments {
		a, err := p.w.RegisterAccount(ctx, p.nym, name+" "+def, def, 1_000)
		require.NoError(t, err)
		p.accounts[def] = a
	}
	return p
}

func (p *person) protocol(answers ...string) (*confirm.Protocol, *operator.Script) {
	op := operator.NewScript(answers...)
	return confirm.New(confirm.Deps{
		Wallet:    p.w,
		Notary:    p.w,
		Messenger: p.w,
		Operator:  op,
		Clock:     clock,
	}), op
}

const escrowYAML = `
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

func TestThreeWallets_ConfirmThroughNotary(t *testing.T) {
	ctx := context.Background()
	n := newNotary(t)
	alice := newPerson(t, n, "alice", "USD")
	bob := newPerson(t, n, "bob", "USD", "GOLD")
	judy := newPerson(t, n, "judy", "USD")
	require.NoError(t, alice.w.AddContact("bob", bob.nym, ""))
	require.NoError(t, bob.w.AddContact("judy", judy.nym, ""))

	doc, err := contract.LoadTemplate(strings.NewReader(escrowYAML), created)
	require.NoError(t, err)

	proto, op := alice.protocol("0", "0", "0", "0")
	out, err := proto.ConfirmSmartContract(ctx, confirm.Request{
		ServerID: serverID, NymID: alice.nym, RecipientNymID: "bo", InboxIndex: -1,
	}, doc)
	require.NoError(t, err)
	assert.Equal(t, confirm.Success, out)
	assert.Zero(t, op.Remaining())

	items, err := bob.w.FetchPayments(ctx, bob.nym)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, alice.nym, items[0].SenderNym)

	proto, op = bob.protocol("0", "0", "0", "0", "0", "0", "0")
	out, err = proto.ConfirmInstrument(ctx, confirm.Request{
		ServerID: serverID, NymID: bob.nym, RecipientNymID: "judy",
		Instrument: items[0].Instrument, InboxIndex: items[0].Index,
	})
	require.NoError(t, err)
	assert.Equal(t, confirm.Success, out)
	assert.Zero(t, op.Remaining())
	left, err := bob.w.Payments(bob.nym)
	require.NoError(t, err)
	assert.Empty(t, left, "forwarded instrument leaves the inbox")

	items, err = judy.w.FetchPayments(ctx, judy.nym)
	require.NoError(t, err)
	require.Len(t, items, 1)

	proto, op = judy.protocol("0", "0", "0", "0", "0")
	out, err = proto.ConfirmInstrument(ctx, confirm.Request{
		ServerID: serverID, NymID: judy.nym,
		Instrument: items[0].Instrument, InboxIndex: items[0].Index,
	})
	require.NoError(t, err)
	assert.Equal(t, confirm.Success, out)
	assert.Zero(t, op.Remaining())

	active, ok, err := n.ledger.Contract(doc.ID)
	require.NoError(t, err)
	require.True(t, ok, "notary holds the activated contract")
	assert.True(t, active.AreAllPartiesConfirmed())

	archived, err := judy.w.RecordBox(judy.nym)
	require.NoError(t, err)
	assert.Len(t, archived, 1)
	left, err = judy.w.Payments(judy.nym)
	require.NoError(t, err)
	assert.Empty(t, left)

	for _, p := range []*person{alice, bob, judy} {
		nums := active.NumbersFor(p.nym)
		require.NotEmpty(t, nums)
		assert.Error(t, p.w.HarvestNumbers(ctx, p.nym, serverID, nums), "activation consumed the numbers")
	}
}

func TestConfirm_FailureHarvestsOnNotary(t *testing.T) {
	ctx := context.Background()
	n := newNotary(t)
	alice := newPerson(t, n, "alice", "GOLD") // no USD account for the alice_usd slot

	doc, err := contract.LoadTemplate(strings.NewReader(escrowYAML), created)
	require.NoError(t, err)
	proto, _ := alice.protocol("0", "0")
	out, err := proto.ConfirmSmartContract(ctx, confirm.Request{
		ServerID: serverID, NymID: alice.nym, InboxIndex: -1,
	}, doc)
	assert.Equal(t, confirm.Failure, out)
	assert.ErrorIs(t, err, confirm.ErrNoMatchingAccount)

	// the two reserved numbers went back to the pool and are handed out again
	nums, err := alice.w.ReserveNumbers(ctx, alice.nym, serverID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, nums)
}

func TestReconcileThenPlace(t *testing.T) {
	ctx := context.Background()
	n := newNotary(t)
	alice := newPerson(t, n, "alice", "USD", "GOLD")
	usd, gold := alice.accounts["USD"], alice.accounts["GOLD"]

	place := func(side offer.Side, price int64) int64 {
		res, err := alice.w.PlaceOffer(ctx, alice.nym, offer.Offer{
			AssetAccountID:    gold.ID,
			CurrencyAccountID: usd.ID,
			AssetTypeID:       "GOLD",
			CurrencyTypeID:    "USD",
			Scale:             1,
			PriceForScale:     price,
			Side:              side,
			TotalAssets:       1,
		})
		require.NoError(t, err)
		require.True(t, res.Resting)
		return res.Offer.TransactionID
	}
	low := place(offer.Buy, 40)
	high := place(offer.Buy, 45)
	ask := place(offer.Sell, 90)

	rec := offer.NewReconciler(alice.w, nil)
	res, err := rec.Clean(ctx, alice.nym, serverID, offer.Candidate{
		AssetAccountID:    gold.ID,
		CurrencyAccountID: usd.ID,
		Scale:             1,
		Price:             42,
		Side:              offer.Sell,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, []int64{high}, res.Cancelled)

	place(offer.Sell, 42)

	records, err := alice.w.LoadOffers(ctx, alice.nym, serverID)
	require.NoError(t, err)
	book, err := offer.NewBook(records)
	require.NoError(t, err)
	var ids []int64
	for _, o := range book.Offers(offer.MarketKey{Scale: 1, AssetTypeID: "GOLD", CurrencyTypeID: "USD"}) {
		ids = append(ids, o.TransactionID)
	}
	assert.Contains(t, ids, low)
	assert.Contains(t, ids, ask)
	assert.NotContains(t, ids, high)
	assert.Len(t, ids, 3)

	_, err = alice.w.PlaceOffer(ctx, alice.nym, offer.Offer{
		AssetAccountID: gold.ID, CurrencyAccountID: usd.ID, AssetTypeID: "GOLD", CurrencyTypeID: "USD",
		Scale: 1, PriceForScale: 10, Side: offer.Sell, TotalAssets: 5_000,
	})
	require.Error(t, err)
	nums, err := alice.w.ReserveNumbers(ctx, alice.nym, serverID, 1)
	require.NoError(t, err)
	assert.Less(t, nums[0], int64(10), "refused offer's number was harvested and reused")
}

func TestSendInstrument_Routes(t *testing.T) {
	ctx := context.Background()
	n := newNotary(t)
	alice := newPerson(t, n, "alice")
	bob := newPerson(t, n, "bob")
	carol := newPerson(t, n, "carol")

	attach := func(p *person) *p2p.Libp2pNet {
		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
		require.NoError(t, err)
		t.Cleanup(func() { net.Close() })
		p.w.AttachNet(net)
		return net
	}
	attach(alice)
	bobNet := attach(bob)
	require.NotEmpty(t, bobNet.Addrs())

	require.NoError(t, alice.w.AddContact("bob", bob.nym, bobNet.Addrs()[0]))
	require.NoError(t, alice.w.AddContact("carol", carol.nym, ""))

	doc, err := contract.LoadTemplate(strings.NewReader(escrowYAML), created)
	require.NoError(t, err)

	// with a peer address the instrument goes straight to bob's wallet
	require.NoError(t, alice.w.SendInstrument(ctx, alice.nym, serverID, bob.nym, doc))
	items, err := bob.w.Payments(bob.nym)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, SourceP2P, items[0].Source)

	// without one it falls back to the notary, even with libp2p attached
	require.NoError(t, alice.w.SendInstrument(ctx, alice.nym, serverID, carol.nym, doc))
	fetched, err := carol.w.FetchPayments(ctx, carol.nym)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	assert.Equal(t, SourceNotary, fetched[0].Source)
	got, err := contract.Decode(fetched[0].Instrument)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
}

func TestResolveContact(t *testing.T) {
	w := newWallet(t, newNotary(t))
	ctx := context.Background()
	bob, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobby, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, w.AddContact("bob", bob.NymID(), ""))
	require.NoError(t, w.AddContact("bobby", bobby.NymID(), ""))
	assert.Error(t, w.AddContact("x", "not-a-nym", ""))

	got, err := w.ResolveContact(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.NymID(), got, "exact name wins over prefix")

	got, err = w.ResolveContact(ctx, "bobb")
	require.NoError(t, err)
	assert.Equal(t, bobby.NymID(), got)

	_, err = w.ResolveContact(ctx, "bo")
	assert.ErrorIs(t, err, ErrAmbiguousContact)
	_, err = w.ResolveContact(ctx, "carol")
	assert.ErrorIs(t, err, ErrUnknownContact)

	got, err = w.ResolveContact(ctx, strings.ToLower(bob.NymID()))
	require.NoError(t, err)
	assert.Equal(t, bob.NymID(), got)
}

func TestInboxAndEnvelopes(t *testing.T) {
	ctx := context.Background()
	n := newNotary(t)
	judy := newPerson(t, n, "judy")
	sender, err := crypto.GenerateKey()
	require.NoError(t, err)

	text, err := contract.Encode(contract.Document{Type: contract.TypeSmartContract, ID: "c-1", ValidFrom: 1,
		Parties: []contract.Party{{Name: "a"}}})
	require.NoError(t, err)

	env, err := p2p.Seal(sender, judy.nym, serverID, text, 5)
	require.NoError(t, err)
	require.NoError(t, judy.w.DeliverEnvelope(ctx, env))

	elsewhere, err := p2p.Seal(sender, sender.NymID(), serverID, text, 5)
	require.NoError(t, err)
	assert.ErrorIs(t, judy.w.DeliverEnvelope(ctx, elsewhere), p2p.ErrNotLocal)

	garbage, err := p2p.Seal(sender, judy.nym, serverID, "hello", 5)
	require.NoError(t, err)
	assert.Error(t, judy.w.DeliverEnvelope(ctx, garbage))

	items, err := judy.w.Payments(judy.nym)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, SourceP2P, items[0].Source)
	assert.Equal(t, sender.NymID(), items[0].SenderNym)

	second, err := judy.w.store.AddPayment(judy.nym, InboxItem{Instrument: text})
	require.NoError(t, err)
	assert.Greater(t, second, items[0].Index)

	require.NoError(t, judy.w.MoveToRecordBox(ctx, judy.nym, items[0].Index))
	require.NoError(t, judy.w.RemovePayment(ctx, judy.nym, second))
	assert.ErrorIs(t, judy.w.RemovePayment(ctx, judy.nym, second), ErrUnknownPayment)
	assert.ErrorIs(t, judy.w.MoveToRecordBox(ctx, judy.nym, 99), ErrUnknownPayment)

	rec, err := judy.w.RecordBox(judy.nym)
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, items[0].Index, rec[0].Index)
}

func TestSignerSurvivesReopen(t *testing.T) {
	n := newNotary(t)
	dir := t.TempDir()
	w, err := Open(Config{DataDir: dir, NotaryURL: n.url, ServerID: serverID, Clock: clock})
	require.NoError(t, err)
	rec, err := w.CreateNym(context.Background(), "alice")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(Config{DataDir: dir, NotaryURL: n.url, ServerID: serverID, Clock: clock})
	require.NoError(t, err)
	defer w.Close()
	s, err := w.Signer(strings.ToLower(rec.NymID))
	require.NoError(t, err)
	assert.Equal(t, rec.NymID, s.NymID())

	id, err := w.ResolveNym("")
	require.NoError(t, err)
	assert.Equal(t, rec.NymID, id)
	id, err = w.ResolveNym("alice")
	require.NoError(t, err)
	assert.Equal(t, rec.NymID, id)
	_, err = w.ResolveNym("bob")
	assert.ErrorIs(t, err, ErrUnknownNym)
}
