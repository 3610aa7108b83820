package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/storage"
)

// activeContract is what the notary keeps after activation.
type activeContract struct {
	Document    contract.Document `json:"document"`
	ActivatedBy string            `json:"activated_by"`
	AccountID   string            `json:"account_id"`
	ActivatedAt int64             `json:"activated_at"`
	// payment plans only
	PaymentsMade int64 `json:"payments_made,omitempty"`
	NextPayment  int64 `json:"next_payment,omitempty"`
}

// Activate puts a fully signed instrument into effect. The activating nym
// must own accountID and, for smart contracts, hold agentName on the party
// that bound it.
func (l *Ledger) Activate(nymID, accountID, agentName string, doc contract.Document) ([]notary.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireNym(nymID); err != nil {
		return nil, err
	}
	if doc.ServerID != l.serverID {
		return nil, fmt.Errorf("%w: contract is for server %q", ErrActivation, doc.ServerID)
	}
	if now := l.now(); now < doc.ValidFrom || (doc.ValidTo != 0 && now > doc.ValidTo) {
		return nil, fmt.Errorf("%w: outside validity window", ErrActivation)
	}
	ok, err := l.db.Has(storage.Key("contract", doc.ID))
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContract, doc.ID)
	}
	if _, err := l.ownedAccount(nymID, accountID); err != nil {
		return nil, err
	}

	t := l.begin()
	rec := activeContract{Document: doc, ActivatedBy: nymID, AccountID: accountID, ActivatedAt: l.now()}
	switch doc.Type {
	case contract.TypeSmartContract:
		err = l.activateSmartContract(t, nymID, accountID, agentName, doc)
	case contract.TypePaymentPlan:
		err = l.activatePlan(t, nymID, accountID, doc, &rec)
	default:
		err = fmt.Errorf("%w: cannot activate %q", ErrActivation, doc.Type)
	}
	if err == nil {
		err = t.put(storage.Key("contract", doc.ID), rec)
	}
	if err != nil {
		t.discard()
		return nil, err
	}
	receipts, err := t.commit()
	if err != nil {
		return nil, err
	}
	l.log.Infow("contract_activated", "contract", doc.ID, "type", string(doc.Type), "nym", nymID, "account", accountID)
	return receipts, nil
}

func (l *Ledger) activateSmartContract(t *txn, nymID, accountID, agentName string, doc contract.Document) error {
	if !doc.AreAllPartiesConfirmed() {
		return fmt.Errorf("%w: unconfirmed parties %v", ErrActivation, doc.UnconfirmedParties())
	}

	activatorBound := false
	for _, p := range doc.Parties {
		if err := contract.VerifyParty(doc, p.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrActivation, err)
		}
		if err := l.requireNym(p.NymID); err != nil {
			return err
		}
		for _, slot := range p.Accounts {
			acct, err := t.account(slot.AccountID)
			if err != nil {
				return err
			}
			if acct.NymID != p.NymID {
				return fmt.Errorf("%w: slot %s/%s names an account of another nym", ErrActivation, p.Name, slot.Name)
			}
			if slot.InstrumentDefinitionID != "" && acct.InstrumentDefinitionID != slot.InstrumentDefinitionID {
				return fmt.Errorf("%w: slot %s/%s wants %s", ErrActivation, p.Name, slot.Name, slot.InstrumentDefinitionID)
			}
			if slot.AccountID == accountID && p.NymID == nymID && slot.AgentName == agentName {
				activatorBound = true
			}
			t.receipt(slot.AccountID, "contract_activated", 0, doc.ID)
		}
	}
	if !activatorBound {
		return fmt.Errorf("%w: account %s is not bound to agent %q of the activating nym", ErrActivation, accountID, agentName)
	}
	seen := make(map[string]bool)
	for _, p := range doc.Parties {
		if seen[p.NymID] {
			continue
		}
		seen[p.NymID] = true
		if err := t.consume(p.NymID, doc.NumbersFor(p.NymID)...); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) activatePlan(t *txn, nymID, accountID string, doc contract.Document, rec *activeContract) error {
	if err := contract.VerifyPlan(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrActivation, err)
	}
	plan := doc.Plan
	if plan.RecipientNymID != nymID || plan.RecipientAccountID != accountID {
		return fmt.Errorf("%w: only the recipient activates a payment plan", ErrActivation)
	}
	sender, err := t.account(plan.SenderAccountID)
	if err != nil {
		return err
	}
	if sender.NymID != plan.SenderNymID {
		return fmt.Errorf("%w: sender account not owned by sender", ErrActivation)
	}
	if err := t.consume(plan.SenderNymID, plan.OpeningNumber, plan.ClosingNumber); err != nil {
		return err
	}
	if err := t.transfer(plan.SenderAccountID, plan.RecipientAccountID, plan.InitialAmount, "plan_initial", doc.ID); err != nil {
		return err
	}
	rec.NextPayment = l.now() + plan.PeriodSeconds
	return nil
}

// RunPlans pays every payment plan installment due at or before now.
// An installment the payer cannot cover is skipped until the next period.
func (l *Ledger) RunPlans() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var due []activeContract
	err := l.db.Scan(storage.Prefix("contract"), func(_, v []byte) error {
		var rec activeContract
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.Document.Type == contract.TypePaymentPlan && rec.NextPayment != 0 && rec.NextPayment <= now {
			due = append(due, rec)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, rec := range due {
		plan := rec.Document.Plan
		t := l.begin()
		ref := rec.Document.ID + "#" + strconv.FormatInt(rec.PaymentsMade+1, 10)
		err := t.transfer(plan.SenderAccountID, plan.RecipientAccountID, plan.Amount, "plan_payment", ref)
		switch {
		case err == nil:
			rec.PaymentsMade++
			paid++
		default:
			l.log.Warnw("plan_payment_skipped", "contract", rec.Document.ID, "err", err)
			t.discard()
			t = l.begin()
		}
		rec.NextPayment += plan.PeriodSeconds
		if plan.MaxPayments > 0 && rec.PaymentsMade >= plan.MaxPayments {
			rec.NextPayment = 0
		}
		if err := t.put(storage.Key("contract", rec.Document.ID), rec); err != nil {
			t.discard()
			return paid, err
		}
		if _, err := t.commit(); err != nil {
			return paid, err
		}
	}
	if paid > 0 {
		l.log.Infow("plans_run", "paid", paid, "due", len(due))
	}
	return paid, nil
}

// Contract returns an activated instrument by id.
func (l *Ledger) Contract(id string) (contract.Document, bool, error) {
	var rec activeContract
	ok, err := l.db.GetJSON(storage.Key("contract", id), &rec)
	return rec.Document, ok, err
}
