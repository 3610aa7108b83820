package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

func TestThreePartyContract_ActivatesOnlyAfterLastSigner(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	doc := escrow(t)

	// Alice: party 0, slot 0, account 0, agent 0; forward to bob.
	op := operator.NewScript("0", "0", "0", "0")
	out, err := w.protocol(op).ConfirmSmartContract(ctx, w.request(w.alice, w.bob.NymID()), doc)
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Zero(t, op.Remaining())

	afterAlice := w.lastSent(t)
	assert.True(t, afterAlice.PartyConfirmed("alice"))
	assert.False(t, afterAlice.AreAllPartiesConfirmed())
	assert.Equal(t, w.bob.NymID(), w.messenger.sent[0].to)
	assert.Empty(t, w.notary.activated, "must forward, not activate")
	require.NoError(t, contract.VerifyParty(afterAlice, "alice"))

	// Bob: party 0 (bob), two slots; once bob_usd is bound only bob_gold is offered.
	op = operator.NewScript("0", "0", "0", "0", "0", "0", "0")
	out, err = w.protocol(op).ConfirmSmartContract(ctx, w.request(w.bob, "ju"), afterAlice)
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Zero(t, op.Remaining())

	afterBob := w.lastSent(t)
	assert.Equal(t, w.judy.NymID(), w.messenger.sent[1].to)
	assert.True(t, afterBob.PartyConfirmed("alice"), "confirmation is monotonic")
	assert.True(t, afterBob.PartyConfirmed("bob"))
	assert.False(t, afterBob.AreAllPartiesConfirmed())
	assert.Empty(t, w.notary.activated)

	// Judy: last signer, activates from her only slot.
	op = operator.NewScript("0", "0", "0", "0", "0")
	out, err = w.protocol(op).ConfirmSmartContract(ctx, w.request(w.judy, ""), afterBob)
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Zero(t, op.Remaining())

	require.Len(t, w.notary.activated, 1)
	assert.Equal(t, []bool{true}, w.notary.confirmedAtActivation)
	assert.Equal(t, []string{"j-usd/judy"}, w.notary.activatedFrom)
	assert.Equal(t, []string{"j-usd"}, w.notary.inboxes)
	assert.Len(t, w.messenger.sent, 2, "last signer does not forward")
	assert.Empty(t, w.notary.harvested)

	final := w.notary.activated[0]
	for _, name := range []string{"alice", "bob", "judy"} {
		assert.True(t, final.PartyConfirmed(name), name)
		assert.NoError(t, contract.VerifyParty(final, name), name)
	}
	assert.ElementsMatch(t, w.notary.reserved[0], final.NumbersFor(w.alice.NymID()))
	assert.ElementsMatch(t, w.notary.reserved[1], final.NumbersFor(w.bob.NymID()))
	assert.ElementsMatch(t, w.notary.reserved[2], final.NumbersFor(w.judy.NymID()))
}

func TestAccountSlots_OnlyRemainingAreOffered(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	_, err := w.protocol(operator.NewScript("0", "0", "0", "0")).
		ConfirmSmartContract(ctx, w.request(w.alice, "bob"), escrow(t))
	require.NoError(t, err)

	// bob picks bob_gold first, then index 1 no longer exists
	op := operator.NewScript("0", "1", "0", "0", "1")
	out, err := w.protocol(op).ConfirmSmartContract(ctx, w.request(w.bob, "judy"), w.lastSent(t))
	assert.ErrorIs(t, err, ErrInvalidChoice)
	assert.Equal(t, Failure, out)
	require.Len(t, op.Choices, 5)
	assert.Equal(t, [][]string{{"bob_usd", "USD"}, {"bob_gold", "GOLD"}}, op.Choices[1])
	assert.Equal(t, [][]string{{"bob_usd", "USD"}}, op.Choices[4])
	assert.Contains(t, op.Prompts[4], "1 remaining")
	require.Len(t, w.notary.harvested, 1)
}

func TestConfirmSmartContract_PreboundSlotReservesOnlyWhatItUses(t *testing.T) {
	w := newWorld(t)
	doc := escrow(t)
	doc.Parties[0].Accounts[0].AccountID = "a-usd"
	doc.Parties[0].Accounts[0].AgentName = "alice_agent"

	op := operator.NewScript("0")
	out, err := w.protocol(op).ConfirmSmartContract(context.Background(), w.request(w.alice, "bob"), doc)
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Zero(t, op.Remaining())

	sent := w.lastSent(t)
	require.Len(t, w.notary.reserved, 1)
	assert.Equal(t, []int64{sent.Parties[0].OpeningNumber}, w.notary.reserved[0])
	assert.Empty(t, w.notary.harvested)
	require.NoError(t, contract.VerifyParty(sent, "alice"))
}

// judyReady returns the escrow with alice and bob already confirmed.
func judyReady(t *testing.T, w *world) contract.Document {
	t.Helper()
	ctx := context.Background()
	doc := escrow(t)
	_, err := w.protocol(operator.NewScript("0", "0", "0", "0")).
		ConfirmSmartContract(ctx, w.request(w.alice, "bob"), doc)
	require.NoError(t, err)
	_, err = w.protocol(operator.NewScript("0", "0", "0", "0", "0", "0", "0")).
		ConfirmSmartContract(ctx, w.request(w.bob, "judy"), w.lastSent(t))
	require.NoError(t, err)
	w.notary.reserved = nil
	return w.lastSent(t)
}

func TestConfirmSmartContract_HarvestsExactlyOnceOnFailure(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		nym     func(w *world) string
		doc     func(t *testing.T, w *world) contract.Document
		setup   func(w *world)
		answers []string
		recip   string
		want    error
	}{
		{
			name:    "slot index out of range",
			answers: []string{"0", "7"},
			want:    ErrInvalidChoice,
		},
		{
			name:    "nym not registered",
			setup:   func(w *world) { w.wallet.unregistered = true },
			answers: []string{"0", "0"},
			want:    ErrNotRegistered,
		},
		{
			name:    "no account of the required type",
			setup:   func(w *world) { w.wallet.accounts = w.wallet.accounts[1:] },
			answers: []string{"0", "0"},
			want:    ErrNoMatchingAccount,
		},
		{
			name:    "account index out of range",
			answers: []string{"0", "0", "3"},
			want:    ErrInvalidChoice,
		},
		{
			name:    "agent index out of range",
			answers: []string{"0", "0", "0", "9"},
			want:    ErrInvalidChoice,
		},
		{
			name:    "operator runs out of answers",
			answers: []string{"0"},
			want:    operator.ErrNoMoreInput,
		},
		{
			name: "contract bound to another server",
			doc: func(t *testing.T, w *world) contract.Document {
				d := escrow(t)
				d.ServerID = "notary-9"
				return d
			},
			answers: []string{"0", "0"},
			want:    contract.ErrServerMismatch,
		},
		{
			name: "slot preset to an unknown agent",
			doc: func(t *testing.T, w *world) contract.Document {
				d := escrow(t)
				d.Parties[0].Accounts[0].AgentName = "ghost"
				return d
			},
			answers: []string{"0", "0", "0"},
			want:    contract.ErrUnknownAgent,
		},
		{
			name: "party role held by another nym",
			doc: func(t *testing.T, w *world) contract.Document {
				d := escrow(t)
				d.Parties[0].NymID = w.bob.NymID()
				d.Parties[0].Accounts[0].AccountID = "a-usd"
				d.Parties[0].Accounts[0].AgentName = "alice_agent"
				return d
			},
			answers: []string{"0"},
			want:    contract.ErrAgentNym,
		},
		{
			name:    "forward to self",
			recip:   "self",
			answers: []string{"0", "0", "0", "0"},
			want:    ErrSelfForward,
		},
		{
			name:    "unknown contact",
			recip:   "mallory",
			answers: []string{"0", "0", "0", "0"},
		},
		{
			name:    "messenger fails",
			setup:   func(w *world) { w.messenger.err = boom },
			answers: []string{"0", "0", "0", "0"},
			want:    ErrForwardFailed,
		},
		{
			name:    "activation rejected",
			nym:     func(w *world) string { return w.judy.NymID() },
			doc:     judyReady,
			setup:   func(w *world) { w.notary.activateErr = boom },
			answers: []string{"0", "0", "0", "0", "0"},
			want:    ErrActivationRejected,
		},
		{
			name:    "activation slot index out of range",
			nym:     func(w *world) string { return w.judy.NymID() },
			doc:     judyReady,
			answers: []string{"0", "0", "0", "0", "4"},
			want:    ErrInvalidChoice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			doc := escrow(t)
			if tt.doc != nil {
				doc = tt.doc(t, w)
			}
			nym := w.alice.NymID()
			if tt.nym != nil {
				nym = tt.nym(w)
			}
			if tt.setup != nil {
				tt.setup(w)
			}
			recip := "bob"
			switch tt.recip {
			case "":
			case "self":
				recip = nym
			default:
				recip = tt.recip
			}
			sentBefore := len(w.messenger.sent)

			op := operator.NewScript(tt.answers...)
			req := Request{ServerID: server, NymID: nym, RecipientNymID: recip, InboxIndex: 3}
			out, err := w.protocol(op).ConfirmSmartContract(context.Background(), req, doc)

			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Equal(t, Failure, out)
			require.Len(t, w.notary.reserved, 1)
			require.Len(t, w.notary.harvested, 1, "harvest exactly once")
			assert.Equal(t, w.notary.reserved[0], w.notary.harvested[0])
			assert.Len(t, w.messenger.sent, sentBefore)
			assert.Empty(t, w.notary.activated)
			assert.Empty(t, w.wallet.removed, "inbox entry stays on failure")
		})
	}
}

func TestConfirmSmartContract_FailuresBeforeReservation(t *testing.T) {
	tests := []struct {
		name    string
		doc     func(t *testing.T, w *world) contract.Document
		setup   func(w *world)
		answers []string
		want    error
	}{
		{
			name: "no parties",
			doc: func(t *testing.T, w *world) contract.Document {
				return contract.Document{Type: contract.TypeSmartContract, ID: "empty"}
			},
			want: ErrNoParties,
		},
		{
			name: "every party confirmed",
			doc: func(t *testing.T, w *world) contract.Document {
				d := judyReady(t, w)
				op := operator.NewScript("0", "0", "0", "0", "0")
				_, err := w.protocol(op).ConfirmSmartContract(context.Background(), w.request(w.judy, ""), d)
				require.NoError(t, err)
				return w.notary.activated[0]
			},
			want: ErrAlreadyConfirmed,
		},
		{
			name:    "party index out of range",
			answers: []string{"5"},
			want:    ErrInvalidChoice,
		},
		{
			name:    "reservation refused",
			setup:   func(w *world) { w.notary.reserveErr = errors.New("no numbers") },
			answers: []string{"0"},
			want:    ErrReserveFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t)
			doc := escrow(t)
			if tt.doc != nil {
				doc = tt.doc(t, w)
			}
			if tt.setup != nil {
				tt.setup(w)
			}
			harvestedBefore := len(w.notary.harvested)
			reservedBefore := len(w.notary.reserved)

			out, err := w.protocol(operator.NewScript(tt.answers...)).
				ConfirmSmartContract(context.Background(), w.request(w.alice, "bob"), doc)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Failure, out)
			assert.Len(t, w.notary.reserved, reservedBefore)
			assert.Len(t, w.notary.harvested, harvestedBefore, "nothing to harvest")
		})
	}
}

func TestActivation_InboxFailureIsNotFatal(t *testing.T) {
	w := newWorld(t)
	doc := judyReady(t, w)
	w.notary.inboxErr = errors.New("inbox unavailable")

	op := operator.NewScript("0", "0", "0", "0")
	req := w.request(w.judy, "")
	req.AccountID = "j-usd"
	req.InboxIndex = 2
	out, err := w.protocol(op).ConfirmSmartContract(context.Background(), req, doc)
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Len(t, w.notary.activated, 1)
	assert.Empty(t, w.notary.harvested)
	assert.Equal(t, []int{2}, w.wallet.recorded)
	assert.Contains(t, op.Notices[len(op.Notices)-1], "inbox")
}

func TestForward_RemovesInboxEntry(t *testing.T) {
	w := newWorld(t)
	req := w.request(w.alice, "")
	req.InboxIndex = 4

	op := operator.NewScript("0", "0", "0", "0", "bo")
	out, err := w.protocol(op).ConfirmSmartContract(context.Background(), req, escrow(t))
	require.NoError(t, err)
	assert.Equal(t, Success, out)
	assert.Equal(t, w.bob.NymID(), w.messenger.sent[0].to)
	assert.Equal(t, []int{4}, w.wallet.removed)
}

func TestConfirmInstrument_ValidityWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("not yet valid", func(t *testing.T) {
		w := newWorld(t)
		text, err := contract.Encode(escrow(t))
		require.NoError(t, err)
		p := w.protocol(operator.NewScript())
		p.clock = util.FixedClock{T: created.Add(-time.Minute)}

		out, err := p.ConfirmInstrument(ctx, Request{ServerID: server, NymID: w.alice.NymID(), Instrument: text, InboxIndex: -1})
		require.NoError(t, err)
		assert.Equal(t, NoAction, out)
		assert.Empty(t, w.notary.reserved)
	})

	// alice confirmed and forwarded, the contract came back after it expired
	expired := func(t *testing.T, w *world) string {
		_, err := w.protocol(operator.NewScript("0", "0", "0", "0")).
			ConfirmSmartContract(ctx, w.request(w.alice, "bob"), escrow(t))
		require.NoError(t, err)
		text, err := contract.Encode(w.lastSent(t))
		require.NoError(t, err)
		return text
	}

	t.Run("expired and pasted harvests", func(t *testing.T) {
		w := newWorld(t)
		text := expired(t, w)
		p := w.protocol(operator.NewScript())
		p.clock = util.FixedClock{T: created.Add(721 * time.Hour)}

		out, err := p.ConfirmInstrument(ctx, Request{ServerID: server, NymID: w.alice.NymID(), Instrument: text, InboxIndex: -1})
		require.NoError(t, err)
		assert.Equal(t, NoAction, out)
		require.Len(t, w.notary.harvested, 1)
		assert.ElementsMatch(t, w.notary.reserved[0], w.notary.harvested[0])
		assert.Empty(t, w.wallet.recorded)
	})

	t.Run("expired from inbox is archived", func(t *testing.T) {
		w := newWorld(t)
		text := expired(t, w)
		p := w.protocol(operator.NewScript())
		p.clock = util.FixedClock{T: created.Add(721 * time.Hour)}

		out, err := p.ConfirmInstrument(ctx, Request{ServerID: server, NymID: w.alice.NymID(), Instrument: text, InboxIndex: 0})
		require.NoError(t, err)
		assert.Equal(t, NoAction, out)
		assert.Empty(t, w.notary.harvested)
		assert.Equal(t, []int{0}, w.wallet.recorded)
	})
}

func TestConfirmInstrument_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported type", func(t *testing.T) {
		w := newWorld(t)
		out, err := w.protocol(operator.NewScript()).ConfirmInstrument(ctx, Request{
			ServerID: server, NymID: w.alice.NymID(), InboxIndex: -1,
			Instrument: `{"type":"CHEQUE","id":"c1","valid_from":0}`,
		})
		assert.ErrorIs(t, err, ErrUnsupportedInstrument)
		assert.Equal(t, Failure, out)
	})

	t.Run("malformed", func(t *testing.T) {
		w := newWorld(t)
		out, err := w.protocol(operator.NewScript()).ConfirmInstrument(ctx, Request{Instrument: "junk", InboxIndex: -1})
		assert.ErrorIs(t, err, contract.ErrMalformed)
		assert.Equal(t, Failure, out)
	})

	t.Run("smart contract", func(t *testing.T) {
		w := newWorld(t)
		text, err := contract.Encode(escrow(t))
		require.NoError(t, err)
		req := w.request(w.alice, "bob")
		req.Instrument = text
		out, err := w.protocol(operator.NewScript("0", "0", "0", "0")).ConfirmInstrument(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, Success, out)
		assert.Len(t, w.messenger.sent, 1)
	})

	t.Run("payment plan", func(t *testing.T) {
		w := newWorld(t)
		plan := contract.Document{
			Type: contract.TypePaymentPlan, ID: "plan-1", ValidFrom: created.Unix(),
			Plan: &contract.PaymentPlan{
				RecipientNymID: w.bob.NymID(), RecipientAccountID: "b-usd", Amount: 10, PeriodSeconds: 3600,
			},
		}
		text, err := contract.Encode(plan)
		require.NoError(t, err)
		req := w.request(w.alice, "")
		req.Instrument = text

		out, err := w.protocol(operator.NewScript("0")).ConfirmInstrument(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, Success, out)
		require.Len(t, w.messenger.sent, 1)
		signed := w.messenger.sent[0].doc
		assert.Equal(t, w.bob.NymID(), w.messenger.sent[0].to)
		assert.Equal(t, "a-usd", signed.Plan.SenderAccountID)
		require.NoError(t, contract.VerifyPlan(signed))
		assert.Empty(t, w.notary.harvested)
	})

	t.Run("payment plan without handler", func(t *testing.T) {
		w := newWorld(t)
		p := w.protocol(operator.NewScript())
		p.plans = nil
		plan := contract.Document{
			Type: contract.TypePaymentPlan, ID: "plan-2", ValidFrom: 0,
			Plan: &contract.PaymentPlan{RecipientNymID: w.bob.NymID(), RecipientAccountID: "b", Amount: 1, PeriodSeconds: 60},
		}
		text, err := contract.Encode(plan)
		require.NoError(t, err)
		out, err := p.ConfirmInstrument(ctx, Request{ServerID: server, NymID: w.alice.NymID(), Instrument: text, InboxIndex: -1})
		assert.ErrorIs(t, err, ErrUnsupportedInstrument)
		assert.Equal(t, Failure, out)
	})
}
