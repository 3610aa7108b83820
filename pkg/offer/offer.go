package offer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/apd"
)

// Side is the direction of a resting market offer.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy"/"bid" and "sell"/"ask" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("side must be a string: %w", err)
	}
	side, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// MarketKey identifies a market for reconciliation purposes.
// Offers with the same scale and instrument definitions are on the same market.
type MarketKey struct {
	Scale          int64  `json:"scale"`
	AssetTypeID    string `json:"asset_type_id"`
	CurrencyTypeID string `json:"currency_type_id"`
}

func (k MarketKey) String() string {
	return fmt.Sprintf("%d:%s/%s", k.Scale, k.AssetTypeID, k.CurrencyTypeID)
}

func (k MarketKey) less(o MarketKey) bool {
	if k.Scale != o.Scale {
		return k.Scale < o.Scale
	}
	if k.AssetTypeID != o.AssetTypeID {
		return k.AssetTypeID < o.AssetTypeID
	}
	return k.CurrencyTypeID < o.CurrencyTypeID
}

// Offer is a snapshot of one resting order as reported by the notary.
// Offers are never mutated locally, only marked for cancellation.
type Offer struct {
	TransactionID     int64  `json:"transaction_id"`
	NymID             string `json:"nym_id,omitempty"`
	ServerID          string `json:"server_id,omitempty"`
	AssetAccountID    string `json:"asset_account_id"`
	CurrencyAccountID string `json:"currency_account_id"`
	AssetTypeID       string `json:"asset_type_id"`
	CurrencyTypeID    string `json:"currency_type_id"`
	Scale             int64  `json:"scale"`
	PriceForScale     int64  `json:"price_per_scale"` // currency minor units per Scale assets
	Side              Side   `json:"side"`
	TotalAssets       int64  `json:"total_assets"`
	Filled            int64  `json:"filled"`
	MinIncrement      int64  `json:"min_increment,omitempty"`
	DateAdded         int64  `json:"date_added,omitempty"` // unix seconds
}

var errInvalidOffer = errors.New("invalid offer")

// Validate checks the fields the reconciler relies on.
func (o Offer) Validate() error {
	if o.TransactionID <= 0 {
		return fmt.Errorf("%w: transaction id %d", errInvalidOffer, o.TransactionID)
	}
	if o.Scale <= 0 {
		return fmt.Errorf("%w: scale %d", errInvalidOffer, o.Scale)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: side %d", errInvalidOffer, o.Side)
	}
	if o.AssetAccountID == "" || o.CurrencyAccountID == "" {
		return fmt.Errorf("%w: missing account ids", errInvalidOffer)
	}
	if o.AssetTypeID == "" || o.CurrencyTypeID == "" {
		return fmt.Errorf("%w: missing instrument definitions", errInvalidOffer)
	}
	if o.PriceForScale < 0 {
		return fmt.Errorf("%w: negative price", errInvalidOffer)
	}
	if o.Filled < 0 || o.Filled > o.TotalAssets {
		return fmt.Errorf("%w: filled %d of %d", errInvalidOffer, o.Filled, o.TotalAssets)
	}
	return nil
}

// Key returns the market the offer rests on.
func (o Offer) Key() MarketKey {
	return MarketKey{Scale: o.Scale, AssetTypeID: o.AssetTypeID, CurrencyTypeID: o.CurrencyTypeID}
}

// Remaining returns the unfilled asset quantity.
func (o Offer) Remaining() int64 {
	return o.TotalAssets - o.Filled
}

var unitCtx = apd.BaseContext.WithPrecision(18)

// UnitPrice returns the price of a single asset unit (PriceForScale / Scale).
func (o Offer) UnitPrice() apd.Decimal {
	var out apd.Decimal
	if o.Scale <= 0 {
		return out
	}
	if _, err := unitCtx.Quo(&out, apd.New(o.PriceForScale, 0), apd.New(o.Scale, 0)); err != nil {
		return apd.Decimal{}
	}
	return out
}

// Record is an offer as held in the local offer cache, before parsing.
type Record []byte

// ParseRecord decodes and validates a cached offer record.
func ParseRecord(r Record) (Offer, error) {
	if len(r) == 0 {
		return Offer{}, fmt.Errorf("%w: empty record", errInvalidOffer)
	}
	var o Offer
	if err := json.Unmarshal(r, &o); err != nil {
		return Offer{}, fmt.Errorf("decode offer record: %w", err)
	}
	if err := o.Validate(); err != nil {
		return Offer{}, err
	}
	return o, nil
}

// EncodeRecord serializes an offer for the offer cache.
func EncodeRecord(o Offer) (Record, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode offer %d: %w", o.TransactionID, err)
	}
	return Record(b), nil
}
