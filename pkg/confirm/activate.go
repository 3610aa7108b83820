package confirm

import (
	"context"
	"fmt"
)

// activate submits the fully confirmed contract from one of the party's accounts.
func (p *Protocol) activate(ctx context.Context, r *run) (Outcome, error) {
	if !r.doc.AreAllPartiesConfirmed() {
		return r.fail(fmt.Errorf("%w: activation with unconfirmed parties", ErrInvalidTransition))
	}
	if err := r.to(StateAllConfirmed); err != nil {
		return r.fail(err)
	}

	accountID, agent, err := p.activationAccount(r)
	if err != nil {
		return r.fail(err)
	}

	if err := p.notary.ActivateSmartContract(ctx, r.req.NymID, r.req.ServerID, accountID, agent, r.doc); err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrActivationRejected, err))
	}
	r.res.Commit()
	if err := r.to(StateActivated); err != nil {
		return r.fail(err)
	}
	r.log.Infow("contract_activated", "account", accountID, "agent", agent)
	p.op.Notify("Smart contract %s activated.", r.doc.ID)

	// The activation is final; a stale inbox is only reported.
	if err := p.notary.ProcessInbox(ctx, r.req.NymID, r.req.ServerID, accountID); err != nil {
		r.log.Warnw("process_inbox_failed", "account", accountID, "err", err)
		p.op.Notify("Activation succeeded but processing the inbox of %s failed: %v", accountID, err)
	}
	if r.req.FromInbox() {
		if err := p.wallet.MoveToRecordBox(ctx, r.req.NymID, r.req.InboxIndex); err != nil {
			r.log.Warnw("record_box_failed", "index", r.req.InboxIndex, "err", err)
		}
	}
	return Success, nil
}

func (p *Protocol) activationAccount(r *run) (string, string, error) {
	party, _ := r.doc.Party(r.party)
	if len(party.Accounts) == 0 {
		return "", "", fmt.Errorf("%w: party %s has no accounts", ErrNoActivationAccount, r.party)
	}

	if r.req.AccountID != "" {
		for _, s := range party.Accounts {
			if s.AccountID == r.req.AccountID {
				if s.AgentName == "" {
					return "", "", fmt.Errorf("%w: slot %s has no agent", ErrNoActivationAccount, s.Name)
				}
				return s.AccountID, s.AgentName, nil
			}
		}
		return "", "", fmt.Errorf("%w: %s is not one of party %s's accounts",
			ErrNoActivationAccount, r.req.AccountID, r.party)
	}

	rows := make([][]string, 0, len(party.Accounts))
	for _, s := range party.Accounts {
		rows = append(rows, []string{s.Name, s.AccountID, s.AgentName})
	}
	i, err := p.op.ChooseIndex("Activate from which account?", []string{"slot", "account", "agent"}, rows)
	if err != nil {
		return "", "", err
	}
	if i < 0 || i >= len(party.Accounts) {
		return "", "", fmt.Errorf("%w: activation account index %d", ErrInvalidChoice, i)
	}
	s := party.Accounts[i]
	if s.AccountID == "" || s.AgentName == "" {
		return "", "", fmt.Errorf("%w: slot %s is not resolved", ErrNoActivationAccount, s.Name)
	}
	return s.AccountID, s.AgentName, nil
}

// forward sends the signed contract to the next unconfirmed party.
func (p *Protocol) forward(ctx context.Context, r *run) (Outcome, error) {
	if len(r.doc.UnconfirmedParties()) == 0 {
		return r.fail(fmt.Errorf("%w: forwarding a fully confirmed contract", ErrInvalidTransition))
	}

	recipient := r.req.RecipientNymID
	if recipient == "" {
		line, err := p.op.ReadLine("Nym or contact of the next party: ")
		if err != nil {
			return r.fail(err)
		}
		recipient = line
	}
	recipientNym, err := p.wallet.ResolveContact(ctx, recipient)
	if err != nil {
		return r.fail(fmt.Errorf("resolve recipient %q: %w", recipient, err))
	}
	if sameNym(recipientNym, r.req.NymID) {
		return r.fail(fmt.Errorf("%w: %s", ErrSelfForward, recipientNym))
	}

	if err := p.messenger.SendInstrument(ctx, r.req.NymID, r.req.ServerID, recipientNym, r.doc); err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrForwardFailed, err))
	}
	r.res.Commit()
	r.log.Infow("contract_forwarded", "recipient", recipientNym, "unconfirmed", r.doc.UnconfirmedParties())
	p.op.Notify("Sent contract %s to %s.", r.doc.ID, recipientNym)

	if r.req.FromInbox() {
		if err := p.wallet.RemovePayment(ctx, r.req.NymID, r.req.InboxIndex); err != nil {
			r.log.Warnw("inbox_cleanup_failed", "index", r.req.InboxIndex, "err", err)
		}
	}
	return Success, nil
}
