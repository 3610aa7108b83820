package confirm

import (
	"context"
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/contract"
	"github.com/uhyunpark/otxwallet/pkg/operator"
)

type binding struct {
	slot    string
	account string
	agent   string
}

// confirmAccounts asks the operator to bind every unbound slot of the run's
// party, then applies the bindings to the document in the order chosen.
func (p *Protocol) confirmAccounts(ctx context.Context, r *run) (contract.Document, error) {
	doc, req := r.doc, r.req
	party, _ := doc.Party(r.party)
	unbound := doc.UnconfirmedAccounts(r.party)

	var picked []binding
	slotTaken := make(map[string]bool)
	accountTaken := make(map[string]bool)

	for remaining := len(unbound); remaining > 0; {
		open := make([]string, 0, remaining)
		rows := make([][]string, 0, remaining)
		for _, name := range unbound {
			if slotTaken[name] {
				continue
			}
			open = append(open, name)
			rows = append(rows, []string{name, slotDefinition(party, name)})
		}
		i, err := p.op.ChooseIndex(fmt.Sprintf("Unconfirmed accounts for %s (%d remaining)", r.party, remaining),
			[]string{"slot", "instrument"}, rows)
		if err != nil {
			return doc, err
		}
		if i < 0 || i >= len(open) {
			return doc, fmt.Errorf("%w: slot index %d", ErrInvalidChoice, i)
		}
		slotName := open[i]

		if doc.ServerID != "" && doc.ServerID != req.ServerID {
			return doc, fmt.Errorf("%w: contract server %s, confirming on %s",
				contract.ErrServerMismatch, doc.ServerID, req.ServerID)
		}
		ok, err := p.wallet.IsRegistered(ctx, req.NymID, req.ServerID)
		if err != nil {
			return doc, fmt.Errorf("check registration: %w", err)
		}
		if !ok {
			return doc, fmt.Errorf("%w: %s on %s", ErrNotRegistered, req.NymID, req.ServerID)
		}

		accounts, err := p.wallet.Accounts(ctx)
		if err != nil {
			return doc, fmt.Errorf("list accounts: %w", err)
		}
		definition := slotDefinition(party, slotName)
		var candidates []Account
		for _, a := range accounts {
			if a.ServerID != req.ServerID || !sameNym(a.NymID, req.NymID) || accountTaken[a.ID] {
				continue
			}
			if definition != "" && a.InstrumentDefinitionID != definition {
				continue
			}
			candidates = append(candidates, a)
		}
		if len(candidates) == 0 {
			return doc, fmt.Errorf("%w: slot %s wants %q", ErrNoMatchingAccount, slotName, definition)
		}

		account, err := chooseAccount(p.op, fmt.Sprintf("Accounts for %s", slotName), candidates)
		if err != nil {
			return doc, err
		}
		if accountTaken[account.ID] {
			return doc, fmt.Errorf("%w: account %s already selected", ErrInvalidChoice, account.ID)
		}

		agent := slotAgent(party, slotName)
		if agent == "" {
			if len(party.Agents) == 0 {
				return doc, fmt.Errorf("%w: %s", ErrNoAgents, r.party)
			}
			rows := make([][]string, 0, len(party.Agents))
			for _, a := range party.Agents {
				rows = append(rows, []string{a.Name})
			}
			k, err := p.op.ChooseIndex(fmt.Sprintf("Agents of %s", r.party), []string{"agent"}, rows)
			if err != nil {
				return doc, err
			}
			if k < 0 || k >= len(party.Agents) {
				return doc, fmt.Errorf("%w: agent index %d", ErrInvalidChoice, k)
			}
			agent = party.Agents[k].Name
		}

		picked = append(picked, binding{slot: slotName, account: account.ID, agent: agent})
		slotTaken[slotName] = true
		accountTaken[account.ID] = true
		remaining--
	}

	for _, b := range picked {
		closing, err := r.res.Take()
		if err != nil {
			return r.doc, err
		}
		next, err := contract.ConfirmAccount(doc, req.NymID, r.party, b.slot, b.agent, b.account, closing)
		if err != nil {
			return r.doc, fmt.Errorf("confirm account %s: %w", b.slot, err)
		}
		doc = next
		r.log.Infow("account_confirmed", "slot", b.slot, "account", b.account, "agent", b.agent, "closing", closing)
	}
	return doc, nil
}

func chooseAccount(op operator.Operator, title string, accounts []Account) (Account, error) {
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{a.ID, a.Name, a.InstrumentDefinitionID, fmt.Sprintf("%d", a.Balance)})
	}
	i, err := op.ChooseIndex(title, []string{"account", "name", "instrument", "balance"}, rows)
	if err != nil {
		return Account{}, err
	}
	if i < 0 || i >= len(accounts) {
		return Account{}, fmt.Errorf("%w: account index %d", ErrInvalidChoice, i)
	}
	return accounts[i], nil
}

func slotDefinition(p contract.Party, slot string) string {
	for _, s := range p.Accounts {
		if s.Name == slot {
			return s.InstrumentDefinitionID
		}
	}
	return ""
}

func slotAgent(p contract.Party, slot string) string {
	for _, s := range p.Accounts {
		if s.Name == slot {
			return s.AgentName
		}
	}
	return ""
}
