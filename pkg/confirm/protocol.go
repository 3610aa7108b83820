// Package confirm runs the multi-party confirmation handshake for smart
// contracts and payment plans: bind accounts, sign the party role, then
// either activate (last signer) or forward to the next party.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/crypto"
	"github.com/uhyunpark/otxwallet/pkg/operator"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

var (
	ErrUnsupportedInstrument = errors.New("unsupported instrument")
	ErrNoParties             = errors.New("contract has no parties")
	ErrAlreadyConfirmed      = errors.New("all parties already confirmed")
	ErrInconsistent          = errors.New("contract confirmation state is inconsistent")
	ErrInvalidChoice         = errors.New("invalid selection")
	ErrNotRegistered         = errors.New("nym not registered on server")
	ErrNoMatchingAccount     = errors.New("no matching account")
	ErrNoAgents              = errors.New("party has no agents")
	ErrNoActivationAccount   = errors.New("no account to activate with")
	ErrSelfForward           = errors.New("cannot forward to self")
	ErrActivationRejected    = errors.New("activation rejected")
	ErrForwardFailed         = errors.New("forwarding failed")
)

// Account is a wallet asset account as the protocol sees it.
type Account struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	NymID                  string `json:"nym_id"`
	ServerID               string `json:"server_id"`
	InstrumentDefinitionID string `json:"instrument_definition_id"`
	Balance                int64  `json:"balance"`
}

// Wallet is the local state the protocol reads and archives into.
type Wallet interface {
	Accounts(ctx context.Context) ([]Account, error)
	IsRegistered(ctx context.Context, nymID, serverID string) (bool, error)
	// ResolveContact maps a nym id or a partial contact name to a nym id.
	ResolveContact(ctx context.Context, partial string) (string, error)
	RemovePayment(ctx context.Context, nymID string, index int) error
	MoveToRecordBox(ctx context.Context, nymID string, index int) error
	Signer(nymID string) (*crypto.Signer, error)
}

// Notary is the server side of the protocol.
type Notary interface {
	NumberSource
	ActivateSmartContract(ctx context.Context, nymID, serverID, accountID, agentName string, doc contract.Document) error
	ProcessInbox(ctx context.Context, nymID, serverID, accountID string) error
}

// Messenger delivers an instrument to another nym.
type Messenger interface {
	SendInstrument(ctx context.Context, nymID, serverID, recipientNymID string, doc contract.Document) error
}

// PaymentPlans confirms PAYMENT PLAN instruments.
type PaymentPlans interface {
	ConfirmPaymentPlan(ctx context.Context, req Request, doc contract.Document) (Outcome, error)
}

// Request is one confirm invocation.
type Request struct {
	ServerID       string
	NymID          string
	AccountID      string // optional; account to activate or pay from
	RecipientNymID string // optional; next signer
	Instrument     string
	InboxIndex     int // -1 when the instrument was pasted
}

func (r Request) FromInbox() bool { return r.InboxIndex >= 0 }

// Deps wires the protocol to its collaborators.
type Deps struct {
	Wallet    Wallet
	Notary    Notary
	Messenger Messenger
	Plans     PaymentPlans // nil: payment plans are unsupported
	Operator  operator.Operator
	Clock     util.Clock
	Log       *zap.SugaredLogger
}

type Protocol struct {
	wallet    Wallet
	notary    Notary
	messenger Messenger
	plans     PaymentPlans
	op        operator.Operator
	clock     util.Clock
	log       *zap.SugaredLogger
}

func New(d Deps) *Protocol {
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return &Protocol{
		wallet:    d.Wallet,
		notary:    d.Notary,
		messenger: d.Messenger,
		plans:     d.Plans,
		op:        d.Operator,
		clock:     d.Clock,
		log:       d.Log,
	}
}

// ConfirmInstrument checks the validity window and dispatches on instrument type.
// Not-yet-valid and expired instruments return NoAction with a nil error.
func (p *Protocol) ConfirmInstrument(ctx context.Context, req Request) (Outcome, error) {
	doc, err := contract.Decode(req.Instrument)
	if err != nil {
		return Failure, err
	}

	now := p.clock.Now().Unix()
	if now < doc.ValidFrom {
		p.op.Notify("Instrument %s is not yet valid (valid from %d). Try again later.", doc.ID, doc.ValidFrom)
		p.log.Infow("instrument_not_yet_valid", "id", doc.ID, "valid_from", doc.ValidFrom)
		return NoAction, nil
	}
	if doc.ValidTo != 0 && now > doc.ValidTo {
		p.expire(ctx, req, doc)
		return NoAction, nil
	}

	switch doc.Type {
	case contract.TypePaymentPlan:
		if p.plans == nil {
			return Failure, fmt.Errorf("%w: %s", ErrUnsupportedInstrument, doc.Type)
		}
		return p.plans.ConfirmPaymentPlan(ctx, req, doc)
	case contract.TypeSmartContract:
		return p.ConfirmSmartContract(ctx, req, doc)
	default:
		return Failure, fmt.Errorf("%w: %s", ErrUnsupportedInstrument, doc.Type)
	}
}

func (p *Protocol) expire(ctx context.Context, req Request, doc contract.Document) {
	p.op.Notify("Instrument %s expired at %d.", doc.ID, doc.ValidTo)
	p.log.Infow("instrument_expired", "id", doc.ID, "valid_to", doc.ValidTo, "inbox_index", req.InboxIndex)

	if req.FromInbox() {
		if err := p.wallet.MoveToRecordBox(ctx, req.NymID, req.InboxIndex); err != nil {
			p.log.Warnw("record_box_failed", "nym", req.NymID, "index", req.InboxIndex, "err", err)
		}
		return
	}
	nums := doc.NumbersFor(req.NymID)
	if len(nums) == 0 {
		return
	}
	if err := p.notary.HarvestNumbers(ctx, req.NymID, req.ServerID, nums); err != nil {
		p.log.Warnw("harvest_failed", "nym", req.NymID, "numbers", nums, "err", err)
	}
}

// run carries the per-invocation state through the steps of one confirmation.
type run struct {
	req     Request
	doc     contract.Document
	party   string
	machine *Machine
	res     *Reservation
	log     *zap.SugaredLogger
}

func (r *run) to(next State) error {
	from := r.machine.State()
	if err := r.machine.To(next); err != nil {
		return err
	}
	r.log.Debugw("confirm_state", "from", from, "to", next)
	return nil
}

func (r *run) fail(err error) (Outcome, error) {
	if st := r.machine.State(); st != StateFailed {
		_ = r.machine.To(StateFailed)
	}
	r.log.Warnw("confirm_failed", "party", r.party, "err", err)
	return Failure, err
}

// ConfirmSmartContract confirms one party of doc as req.NymID.
// Every failure after numbers are reserved harvests them exactly once.
func (p *Protocol) ConfirmSmartContract(ctx context.Context, req Request, doc contract.Document) (Outcome, error) {
	r := &run{
		req:     req,
		doc:     doc,
		machine: NewMachine(),
		log:     p.log.With("contract", doc.ID, "nym", crypto.ShortID(req.NymID)),
	}
	defer func() { r.res.Release(ctx) }()
	return p.confirmSmartContract(ctx, r)
}

func (p *Protocol) confirmSmartContract(ctx context.Context, r *run) (Outcome, error) {
	doc, req := r.doc, r.req

	if doc.PartyCount() <= 0 {
		return r.fail(fmt.Errorf("%w: %w", contract.ErrMalformed, ErrNoParties))
	}
	if doc.AreAllPartiesConfirmed() {
		return r.fail(ErrAlreadyConfirmed)
	}
	unconfirmed := doc.UnconfirmedParties()
	if len(unconfirmed) == 0 {
		return r.fail(ErrInconsistent)
	}

	party, err := p.chooseParty(doc, unconfirmed)
	if err != nil {
		return r.fail(err)
	}
	r.party = party
	r.log = r.log.With("party", party)

	signer, err := p.wallet.Signer(req.NymID)
	if err != nil {
		return r.fail(fmt.Errorf("load nym %s: %w", req.NymID, err))
	}

	// one opening number, plus a closing number per slot still to bind
	slots := len(doc.UnconfirmedAccounts(party))
	r.res, err = Reserve(ctx, p.notary, req.NymID, req.ServerID, 1+slots, r.log)
	if err != nil {
		return r.fail(err)
	}
	opening, err := r.res.Take()
	if err != nil {
		return r.fail(err)
	}

	if slots > 0 {
		if err := r.to(StateAccountsPending); err != nil {
			return r.fail(err)
		}
		if r.doc, err = p.confirmAccounts(ctx, r); err != nil {
			return r.fail(err)
		}
	}

	r.doc, err = contract.ConfirmParty(r.doc, party, signer, req.ServerID, opening)
	if err != nil {
		return r.fail(err)
	}
	if err := r.to(StatePartySigned); err != nil {
		return r.fail(err)
	}
	r.log.Infow("party_confirmed", "opening", opening)

	if r.doc.AreAllPartiesConfirmed() {
		return p.activate(ctx, r)
	}
	return p.forward(ctx, r)
}

func (p *Protocol) chooseParty(doc contract.Document, unconfirmed []string) (string, error) {
	rows := make([][]string, 0, len(unconfirmed))
	for _, name := range unconfirmed {
		rows = append(rows, []string{name, fmt.Sprintf("%d", doc.AccountCount(name))})
	}
	i, err := p.op.ChooseIndex("Which party are you confirming as?", []string{"party", "accounts"}, rows)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(unconfirmed) {
		return "", fmt.Errorf("%w: party index %d", ErrInvalidChoice, i)
	}
	return unconfirmed[i], nil
}

func sameNym(a, b string) bool { return strings.EqualFold(a, b) }
