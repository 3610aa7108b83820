package contract

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/otxwallet/pkg/crypto"
)

var typed = crypto.NewTypedSigner(crypto.DefaultDomain())

// ConfirmAccount binds one of the party's slots to a real account and agent.
// A bound slot is never rebound.
func ConfirmAccount(doc Document, nymID, partyName, slotName, agentName, accountID string, closingNumber int64) (Document, error) {
	out := doc.Clone()
	pi := out.partyIndex(partyName)
	if pi < 0 {
		return doc, fmt.Errorf("%w: %s", ErrUnknownParty, partyName)
	}
	p := &out.Parties[pi]
	if p.Confirmed() {
		return doc, fmt.Errorf("%w: %s", ErrPartyConfirmed, partyName)
	}
	if p.NymID != "" && p.NymID != nymID {
		return doc, fmt.Errorf("%w: party %s taken by %s", ErrAgentNym, partyName, p.NymID)
	}
	si := p.slotIndex(slotName)
	if si < 0 {
		return doc, fmt.Errorf("%w: %s/%s", ErrUnknownSlot, partyName, slotName)
	}
	if p.Accounts[si].Bound() {
		return doc, fmt.Errorf("%w: %s/%s", ErrSlotBound, partyName, slotName)
	}
	ai := p.agentIndex(agentName)
	if ai < 0 {
		return doc, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}
	if a := p.Agents[ai]; a.NymID != "" && a.NymID != nymID {
		return doc, fmt.Errorf("%w: %s", ErrAgentNym, agentName)
	}
	if accountID == "" {
		return doc, fmt.Errorf("empty account id for slot %s", slotName)
	}

	p.Agents[ai].NymID = nymID
	p.Accounts[si].AccountID = accountID
	p.Accounts[si].AgentName = agentName
	p.Accounts[si].ClosingNumber = closingNumber
	return out, nil
}

// ConfirmParty binds the signer's nym and the server to the party role and signs it.
func ConfirmParty(doc Document, partyName string, signer *crypto.Signer, serverID string, openingNumber int64) (Document, error) {
	out := doc.Clone()
	pi := out.partyIndex(partyName)
	if pi < 0 {
		return doc, fmt.Errorf("%w: %s", ErrUnknownParty, partyName)
	}
	p := &out.Parties[pi]
	if p.Confirmed() {
		return doc, fmt.Errorf("%w: %s", ErrPartyConfirmed, partyName)
	}
	for _, s := range p.Accounts {
		if !s.Bound() {
			return doc, fmt.Errorf("%w: %s/%s", ErrAccountsPending, partyName, s.Name)
		}
	}
	if out.ServerID != "" && out.ServerID != serverID {
		return doc, fmt.Errorf("%w: %s != %s", ErrServerMismatch, out.ServerID, serverID)
	}
	if p.NymID != "" && p.NymID != signer.NymID() {
		return doc, fmt.Errorf("%w: party %s taken by %s", ErrAgentNym, partyName, p.NymID)
	}

	out.ServerID = serverID
	p.NymID = signer.NymID()
	p.OpeningNumber = openingNumber
	if p.AuthorizingAgent == "" && len(p.Agents) > 0 {
		p.AuthorizingAgent = p.Agents[0].Name
	}
	if ai := p.agentIndex(p.AuthorizingAgent); ai >= 0 && p.Agents[ai].NymID == "" {
		p.Agents[ai].NymID = p.NymID
	}

	sig, err := typed.SignParty(signer, partyConfirmation(out.ID, out.ServerID, *p))
	if err != nil {
		return doc, fmt.Errorf("sign party %s: %w", partyName, err)
	}
	p.Signature = hexutil.Encode(sig)
	return out, nil
}

// VerifyParty checks that the party's signature recovers to its nym and
// still covers its current account bindings.
func VerifyParty(doc Document, partyName string) error {
	p, ok := doc.Party(partyName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParty, partyName)
	}
	if !crypto.IsNymID(p.NymID) || p.Signature == "" {
		return fmt.Errorf("%w: %s unsigned", ErrInvalidSignature, partyName)
	}
	sig, err := hexutil.Decode(p.Signature)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSignature, partyName, err)
	}
	ok, err = typed.VerifyParty(partyConfirmation(doc.ID, doc.ServerID, p), sig)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSignature, partyName, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, partyName)
	}
	return nil
}

func partyConfirmation(contractID, serverID string, p Party) *crypto.PartyConfirmation {
	return &crypto.PartyConfirmation{
		ContractID:     contractID,
		Party:          p.Name,
		Nym:            common.HexToAddress(p.NymID),
		ServerID:       serverID,
		OpeningNumber:  p.OpeningNumber,
		AccountsDigest: accountsDigest(p.Accounts),
	}
}

func accountsDigest(slots []AccountSlot) string {
	parts := make([][]byte, 0, len(slots)*4)
	for _, s := range slots {
		parts = append(parts,
			[]byte(s.Name),
			[]byte(s.AccountID),
			[]byte(s.AgentName),
			[]byte(strconv.FormatInt(s.ClosingNumber, 10)),
		)
	}
	return crypto.DigestHex(parts...)
}

// SignPlan binds the sender side of a payment plan and signs its terms.
func SignPlan(doc Document, signer *crypto.Signer, serverID, accountID string, opening, closing int64) (Document, error) {
	if doc.Type != TypePaymentPlan || doc.Plan == nil {
		return doc, fmt.Errorf("%w: not a payment plan", ErrMalformed)
	}
	if doc.Plan.Signature != "" {
		return doc, fmt.Errorf("%w: plan already signed", ErrPartyConfirmed)
	}
	if doc.ServerID != "" && doc.ServerID != serverID {
		return doc, fmt.Errorf("%w: %s != %s", ErrServerMismatch, doc.ServerID, serverID)
	}
	out := doc.Clone()
	out.ServerID = serverID
	plan := out.Plan
	plan.SenderNymID = signer.NymID()
	plan.SenderAccountID = accountID
	plan.OpeningNumber = opening
	plan.ClosingNumber = closing

	sig, err := signer.SignMessage(planBytes(out.ID, out.ServerID, *plan))
	if err != nil {
		return doc, fmt.Errorf("sign plan: %w", err)
	}
	plan.Signature = hexutil.Encode(sig)
	return out, nil
}

// VerifyPlan checks the sender's signature over the plan terms.
func VerifyPlan(doc Document) error {
	if doc.Plan == nil || doc.Plan.Signature == "" {
		return fmt.Errorf("%w: plan unsigned", ErrInvalidSignature)
	}
	sig, err := hexutil.Decode(doc.Plan.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !crypto.VerifyMessage(doc.Plan.SenderNymID, planBytes(doc.ID, doc.ServerID, *doc.Plan), sig) {
		return ErrInvalidSignature
	}
	return nil
}

func planBytes(id, serverID string, p PaymentPlan) []byte {
	d := crypto.Digest(
		[]byte(id), []byte(serverID),
		[]byte(p.SenderNymID), []byte(p.SenderAccountID),
		[]byte(p.RecipientNymID), []byte(p.RecipientAccountID),
		[]byte(strconv.FormatInt(p.InitialAmount, 10)),
		[]byte(strconv.FormatInt(p.Amount, 10)),
		[]byte(strconv.FormatInt(p.PeriodSeconds, 10)),
		[]byte(strconv.FormatInt(p.MaxPayments, 10)),
		[]byte(strconv.FormatInt(p.OpeningNumber, 10)),
		[]byte(strconv.FormatInt(p.ClosingNumber, 10)),
	)
	return d[:]
}
