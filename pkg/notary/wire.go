// Package notary holds the wire types spoken between wallets and a notary
// server, and the HTTP client wallets use to talk to one.
package notary

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/uhyunpark/otxwallet/pkg/offer"
)

const (
	// SignatureHeader carries hex(sign(keccak256(body))) by the request's nym.
	SignatureHeader = "X-Nym-Signature"
	APIPrefix       = "/api/v1"
)

var (
	ErrMessageFailed     = errors.New("notary rejected message")
	ErrBalanceAgreement  = errors.New("balance agreement failed")
	ErrTransactionFailed = errors.New("transaction failed")
)

// Response is the envelope of every notary reply. A transactional request
// succeeds only if the message, the balance agreement and the transaction
// all succeed.
type Response struct {
	Success            bool            `json:"success"`
	Transactional      bool            `json:"transactional,omitempty"`
	BalanceAgreement   bool            `json:"balance_agreement,omitempty"`
	TransactionSuccess bool            `json:"transaction_success,omitempty"`
	Message            string          `json:"message,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
}

func (r Response) Err() error {
	switch {
	case !r.Success:
		return fmt.Errorf("%w: %s", ErrMessageFailed, r.Message)
	case r.Transactional && !r.BalanceAgreement:
		return fmt.Errorf("%w: %s", ErrBalanceAgreement, r.Message)
	case r.Transactional && !r.TransactionSuccess:
		return fmt.Errorf("%w: %s", ErrTransactionFailed, r.Message)
	default:
		return nil
	}
}

// Decode unmarshals Data into v after checking Err.
func (r Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if v == nil || len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode notary response: %w", err)
	}
	return nil
}

// Header is embedded in every signed request.
type Header struct {
	NymID     string `json:"nym_id"`
	ServerID  string `json:"server_id"`
	RequestID string `json:"request_id"`
}

func (h Header) RequestHeader() Header { return h }

// Signed is implemented by every request type.
type Signed interface {
	RequestHeader() Header
}

type RegisterNymRequest struct {
	Header
}

type RegisterAccountRequest struct {
	Header
	Name                   string `json:"name"`
	InstrumentDefinitionID string `json:"instrument_definition_id"`
	InitialBalance         int64  `json:"initial_balance,omitempty"` // honoured by dev notaries only
}

type Account struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	NymID                  string `json:"nym_id"`
	ServerID               string `json:"server_id"`
	InstrumentDefinitionID string `json:"instrument_definition_id"`
	Balance                int64  `json:"balance"`
}

type ReserveNumbersRequest struct {
	Header
	Count int `json:"count"`
}

type HarvestNumbersRequest struct {
	Header
	Numbers []int64 `json:"numbers"`
}

type PlaceOfferRequest struct {
	Header
	Offer offer.Offer `json:"offer"`
}

// PlaceOfferResult reports the fills a new offer produced on placement.
type PlaceOfferResult struct {
	Offer   offer.Offer `json:"offer"`
	Fills   []Fill      `json:"fills,omitempty"`
	Resting bool        `json:"resting"`
}

type Fill struct {
	TakerTx  int64  `json:"taker_tx"`
	MakerTx  int64  `json:"maker_tx"`
	MakerNym string `json:"maker_nym_id,omitempty"`
	Price    int64  `json:"price"`
	Assets   int64  `json:"assets"`
}

type CancelOfferRequest struct {
	Header
	AccountID     string `json:"account_id"`
	TransactionID int64  `json:"transaction_id"`
}

type ActivateRequest struct {
	Header
	AccountID  string `json:"account_id"`
	AgentName  string `json:"agent_name"`
	Instrument string `json:"instrument"` // armored document
}

type SendPaymentRequest struct {
	Header
	RecipientNymID string `json:"recipient_nym_id"`
	Instrument     string `json:"instrument"`
}

// Payment is an instrument waiting in a nym's payments inbox.
type Payment struct {
	Index      int64  `json:"index"`
	SenderNym  string `json:"sender_nym_id"`
	Instrument string `json:"instrument"`
	ReceivedAt int64  `json:"received_at"`
}

type FetchPaymentsRequest struct {
	Header
}

type ProcessInboxRequest struct {
	Header
	AccountID string `json:"account_id"`
}

// Receipt is an entry in an asset account's inbox.
type Receipt struct {
	Seq       int64  `json:"seq"`
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"` // market, contract_activated, plan_initial, plan_payment
	Amount    int64  `json:"amount"`
	Ref       string `json:"ref,omitempty"`
	At        int64  `json:"at"`
}

// Event is pushed to websocket subscribers of a nym channel.
type Event struct {
	Type  string `json:"type"`
	NymID string `json:"nym_id,omitempty"`
	Data  any    `json:"data,omitempty"`
	At    int64  `json:"at"`
}

const (
	EventOfferPlaced       = "offer_placed"
	EventOfferCancelled    = "offer_cancelled"
	EventOfferFilled       = "offer_filled"
	EventContractActivated = "contract_activated"
	EventPaymentReceived   = "payment_received"
)

// NymChannel is the websocket channel carrying a nym's events.
func NymChannel(nymID string) string { return "nym:" + nymID }

// MarketChannel carries book snapshots for one market.
func MarketChannel(key offer.MarketKey) string { return "market:" + key.String() }
