package api

import "github.com/uhyunpark/otxwallet/pkg/offer"

// MarketInfo summarizes one market with resting offers.
type MarketInfo struct {
	Key            string `json:"key"`
	Scale          int64  `json:"scale"`
	AssetTypeID    string `json:"asset_type_id"`
	CurrencyTypeID string `json:"currency_type_id"`
	Offers         int    `json:"offers"`
	LastPrice      int64  `json:"last_price"` // 0 before the first fill
}

// OrderbookSnapshot is the aggregated depth of one market.
type OrderbookSnapshot struct {
	Market    offer.MarketKey `json:"market"`
	Bids      []PriceLevel    `json:"bids"` // high to low
	Asks      []PriceLevel    `json:"asks"` // low to high
	LastPrice int64           `json:"last_price"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// PriceLevel is the total remaining assets at one price per scale.
type PriceLevel struct {
	Price  int64 `json:"price"`
	Assets int64 `json:"assets"`
}

// OrderbookUpdate is pushed on a market channel after every change to the book.
type OrderbookUpdate struct {
	Type string `json:"type"` // "orderbook"
	OrderbookSnapshot
}

// WSSubscribeRequest is sent by websocket clients to manage channels.
type WSSubscribeRequest struct {
	Op        string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels  []string `json:"channels"`
	Signature string   `json:"signature,omitempty"` // required for nym channels
}
