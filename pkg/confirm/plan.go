package confirm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/operator"
)

// PlanConfirmer is the default PAYMENT PLAN handler: the payer binds an
// account, signs the terms with two fresh numbers and returns the plan to
// the recipient, who activates it.
type PlanConfirmer struct {
	wallet    Wallet
	notary    Notary
	messenger Messenger
	op        operator.Operator
	log       *zap.SugaredLogger
}

func NewPlanConfirmer(w Wallet, n Notary, m Messenger, op operator.Operator, log *zap.SugaredLogger) *PlanConfirmer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PlanConfirmer{wallet: w, notary: n, messenger: m, op: op, log: log}
}

func (c *PlanConfirmer) ConfirmPaymentPlan(ctx context.Context, req Request, doc contract.Document) (Outcome, error) {
	log := c.log.With("plan", doc.ID, "nym", req.NymID)
	if doc.Plan == nil {
		return Failure, fmt.Errorf("%w: payment plan without terms", contract.ErrMalformed)
	}
	if doc.Plan.Signature != "" {
		return Failure, ErrAlreadyConfirmed
	}
	if sameNym(doc.Plan.RecipientNymID, req.NymID) {
		return Failure, fmt.Errorf("%w: payer and recipient are both %s", ErrSelfForward, req.NymID)
	}

	signer, err := c.wallet.Signer(req.NymID)
	if err != nil {
		return Failure, fmt.Errorf("load nym %s: %w", req.NymID, err)
	}
	accountID, err := c.payerAccount(ctx, req)
	if err != nil {
		return Failure, err
	}

	res, err := Reserve(ctx, c.notary, req.NymID, req.ServerID, 2, log)
	if err != nil {
		return Failure, err
	}
	defer res.Release(ctx)
	opening, _ := res.Take()
	closing, _ := res.Take()

	signed, err := contract.SignPlan(doc, signer, req.ServerID, accountID, opening, closing)
	if err != nil {
		return Failure, err
	}
	if err := c.messenger.SendInstrument(ctx, req.NymID, req.ServerID, doc.Plan.RecipientNymID, signed); err != nil {
		return Failure, fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	res.Commit()
	log.Infow("payment_plan_confirmed", "account", accountID, "recipient", doc.Plan.RecipientNymID)
	c.op.Notify("Payment plan %s confirmed and sent to %s.", doc.ID, doc.Plan.RecipientNymID)

	if req.FromInbox() {
		if err := c.wallet.RemovePayment(ctx, req.NymID, req.InboxIndex); err != nil {
			log.Warnw("inbox_cleanup_failed", "index", req.InboxIndex, "err", err)
		}
	}
	return Success, nil
}

func (c *PlanConfirmer) payerAccount(ctx context.Context, req Request) (string, error) {
	accounts, err := c.wallet.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("list accounts: %w", err)
	}
	var mine []Account
	for _, a := range accounts {
		if a.ServerID == req.ServerID && sameNym(a.NymID, req.NymID) {
			if req.AccountID != "" && a.ID == req.AccountID {
				return a.ID, nil
			}
			mine = append(mine, a)
		}
	}
	if req.AccountID != "" {
		return "", fmt.Errorf("%w: %s", ErrNoMatchingAccount, req.AccountID)
	}
	if len(mine) == 0 {
		return "", fmt.Errorf("%w: nym %s has no accounts on %s", ErrNoMatchingAccount, req.NymID, req.ServerID)
	}
	a, err := chooseAccount(c.op, "Pay from which account?", mine)
	if err != nil {
		return "", err
	}
	return a.ID, nil
}
