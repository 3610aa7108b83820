package contract

import (
	"errors"
	"fmt"
)

// Type is the instrument type embedded in a document and its armor.
type Type string

const (
	TypeSmartContract Type = "SMARTCONTRACT"
	TypePaymentPlan   Type = "PAYMENT PLAN"
)

var (
	ErrMalformed        = errors.New("malformed contract")
	ErrUnknownParty     = errors.New("unknown party")
	ErrUnknownSlot      = errors.New("unknown account slot")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrSlotBound        = errors.New("account slot already bound")
	ErrPartyConfirmed   = errors.New("party already confirmed")
	ErrAccountsPending  = errors.New("party has unbound account slots")
	ErrServerMismatch   = errors.New("contract bound to another server")
	ErrAgentNym         = errors.New("agent bound to another nym")
	ErrInvalidSignature = errors.New("invalid party signature")
)

// Document is a smart contract or payment plan as it travels between parties.
// Values are passed around by copy; every mutation returns a new Document.
type Document struct {
	Type      Type              `json:"type"`
	ID        string            `json:"id"`
	ServerID  string            `json:"server_id,omitempty"`
	ValidFrom int64             `json:"valid_from"`
	ValidTo   int64             `json:"valid_to,omitempty"` // 0 = no expiry
	Parties   []Party           `json:"parties,omitempty"`
	Clauses   map[string]string `json:"clauses,omitempty"`
	Plan      *PaymentPlan      `json:"plan,omitempty"`
}

// Party is one signer role. NymID and Signature stay empty until the role is taken.
type Party struct {
	Name             string        `json:"name"`
	AuthorizingAgent string        `json:"authorizing_agent,omitempty"`
	Agents           []Agent       `json:"agents,omitempty"`
	NymID            string        `json:"nym_id,omitempty"`
	OpeningNumber    int64         `json:"opening_number,omitempty"`
	Signature        string        `json:"signature,omitempty"`
	Accounts         []AccountSlot `json:"accounts,omitempty"`
}

type Agent struct {
	Name  string `json:"name"`
	NymID string `json:"nym_id,omitempty"`
}

// AccountSlot is a named placeholder for a real asset account.
type AccountSlot struct {
	Name                   string `json:"name"`
	InstrumentDefinitionID string `json:"instrument_definition_id,omitempty"`
	AccountID              string `json:"account_id,omitempty"`
	AgentName              string `json:"agent_name,omitempty"`
	ClosingNumber          int64  `json:"closing_number,omitempty"`
}

func (s AccountSlot) Bound() bool { return s.AccountID != "" }

// PaymentPlan carries the recurring-payment terms of a PAYMENT PLAN document.
type PaymentPlan struct {
	SenderNymID        string `json:"sender_nym_id,omitempty"`
	SenderAccountID    string `json:"sender_account_id,omitempty"`
	RecipientNymID     string `json:"recipient_nym_id"`
	RecipientAccountID string `json:"recipient_account_id"`
	InitialAmount      int64  `json:"initial_amount,omitempty"`
	Amount             int64  `json:"amount"`
	PeriodSeconds      int64  `json:"period_seconds"`
	MaxPayments        int64  `json:"max_payments,omitempty"`
	OpeningNumber      int64  `json:"opening_number,omitempty"`
	ClosingNumber      int64  `json:"closing_number,omitempty"`
	Signature          string `json:"signature,omitempty"`
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := d
	if d.Parties != nil {
		out.Parties = make([]Party, len(d.Parties))
		for i, p := range d.Parties {
			p.Agents = append([]Agent(nil), p.Agents...)
			p.Accounts = append([]AccountSlot(nil), p.Accounts...)
			out.Parties[i] = p
		}
	}
	if d.Clauses != nil {
		out.Clauses = make(map[string]string, len(d.Clauses))
		for k, v := range d.Clauses {
			out.Clauses[k] = v
		}
	}
	if d.Plan != nil {
		plan := *d.Plan
		out.Plan = &plan
	}
	return out
}

func (d Document) PartyCount() int { return len(d.Parties) }

// Party returns a copy of the named party.
func (d Document) Party(name string) (Party, bool) {
	i := d.partyIndex(name)
	if i < 0 {
		return Party{}, false
	}
	return d.Parties[i], true
}

func (d Document) partyIndex(name string) int {
	for i := range d.Parties {
		if d.Parties[i].Name == name {
			return i
		}
	}
	return -1
}

// Confirmed reports whether every slot is bound and the nym has signed.
func (p Party) Confirmed() bool {
	if p.NymID == "" || p.Signature == "" {
		return false
	}
	for _, s := range p.Accounts {
		if !s.Bound() {
			return false
		}
	}
	return true
}

func (p Party) slotIndex(name string) int {
	for i := range p.Accounts {
		if p.Accounts[i].Name == name {
			return i
		}
	}
	return -1
}

func (p Party) agentIndex(name string) int {
	for i := range p.Agents {
		if p.Agents[i].Name == name {
			return i
		}
	}
	return -1
}

func (d Document) PartyConfirmed(name string) bool {
	p, ok := d.Party(name)
	return ok && p.Confirmed()
}

func (d Document) AreAllPartiesConfirmed() bool {
	if len(d.Parties) == 0 {
		return false
	}
	for _, p := range d.Parties {
		if !p.Confirmed() {
			return false
		}
	}
	return true
}

// UnconfirmedParties lists party names in document order.
func (d Document) UnconfirmedParties() []string {
	var out []string
	for _, p := range d.Parties {
		if !p.Confirmed() {
			out = append(out, p.Name)
		}
	}
	return out
}

// AccountCount returns the number of slots the party declares, or -1 if unknown.
func (d Document) AccountCount(party string) int {
	p, ok := d.Party(party)
	if !ok {
		return -1
	}
	return len(p.Accounts)
}

// UnconfirmedAccounts lists the party's unbound slot names in document order.
func (d Document) UnconfirmedAccounts(party string) []string {
	p, ok := d.Party(party)
	if !ok {
		return nil
	}
	var out []string
	for _, s := range p.Accounts {
		if !s.Bound() {
			out = append(out, s.Name)
		}
	}
	return out
}

// NumbersFor returns every opening and closing number the nym has bound into the document.
func (d Document) NumbersFor(nymID string) []int64 {
	var out []int64
	for _, p := range d.Parties {
		if p.NymID != nymID {
			continue
		}
		if p.OpeningNumber > 0 {
			out = append(out, p.OpeningNumber)
		}
		for _, s := range p.Accounts {
			if s.ClosingNumber > 0 {
				out = append(out, s.ClosingNumber)
			}
		}
	}
	if d.Plan != nil && d.Plan.SenderNymID == nymID {
		if d.Plan.OpeningNumber > 0 {
			out = append(out, d.Plan.OpeningNumber)
		}
		if d.Plan.ClosingNumber > 0 {
			out = append(out, d.Plan.ClosingNumber)
		}
	}
	return out
}

// Validate checks structure that the schema cannot express.
func (d Document) Validate() error {
	switch d.Type {
	case TypeSmartContract:
		seen := make(map[string]bool, len(d.Parties))
		for _, p := range d.Parties {
			if seen[p.Name] {
				return fmt.Errorf("%w: duplicate party %q", ErrMalformed, p.Name)
			}
			seen[p.Name] = true
			slots := make(map[string]bool, len(p.Accounts))
			for _, s := range p.Accounts {
				if slots[s.Name] {
					return fmt.Errorf("%w: party %q has duplicate slot %q", ErrMalformed, p.Name, s.Name)
				}
				slots[s.Name] = true
			}
		}
	case TypePaymentPlan:
		if d.Plan == nil {
			return fmt.Errorf("%w: payment plan without terms", ErrMalformed)
		}
	}
	if d.ValidTo != 0 && d.ValidTo < d.ValidFrom {
		return fmt.Errorf("%w: valid_to %d before valid_from %d", ErrMalformed, d.ValidTo, d.ValidFrom)
	}
	return nil
}
