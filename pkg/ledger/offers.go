package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/uhyunpark/otxwallet/pkg/market"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/storage"
)

// NymOffers returns the nym's resting offers.
func (l *Ledger) NymOffers(nymID string) []offer.Offer {
	return l.books.NymOffers(nymID)
}

// PlaceOffer burns the offer's transaction number, matches it and rests
// whatever remains. Fills settle immediately between the four accounts.
func (l *Ledger) PlaceOffer(nymID string, o offer.Offer) (notary.PlaceOfferResult, []notary.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireNym(nymID); err != nil {
		return notary.PlaceOfferResult{}, nil, err
	}
	o.NymID = nymID
	o.ServerID = l.serverID
	o.Filled = 0
	o.DateAdded = l.now()
	if err := o.Validate(); err != nil {
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if o.TotalAssets <= 0 || o.PriceForScale <= 0 {
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: needs positive assets and price", ErrInvalidOffer)
	}
	if o.MinIncrement <= 0 {
		o.MinIncrement = o.Scale
	}

	t := l.begin()
	asset, err := t.account(o.AssetAccountID)
	if err != nil {
		t.discard()
		return notary.PlaceOfferResult{}, nil, err
	}
	currency, err := t.account(o.CurrencyAccountID)
	if err != nil {
		t.discard()
		return notary.PlaceOfferResult{}, nil, err
	}
	if asset.NymID != nymID || currency.NymID != nymID {
		t.discard()
		return notary.PlaceOfferResult{}, nil, ErrNotOwner
	}
	if asset.InstrumentDefinitionID != o.AssetTypeID || currency.InstrumentDefinitionID != o.CurrencyTypeID {
		t.discard()
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: account instruments do not match the market", ErrInvalidOffer)
	}
	if o.Side == offer.Sell && asset.Balance < o.TotalAssets {
		t.discard()
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: selling %d of %d", ErrInsufficientFunds, o.TotalAssets, asset.Balance)
	}
	if need := cost(o.PriceForScale, o.TotalAssets, o.Scale); o.Side == offer.Buy && currency.Balance < need {
		t.discard()
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: buying for %d with %d", ErrInsufficientFunds, need, currency.Balance)
	}
	if err := t.consume(nymID, o.TransactionID); err != nil {
		t.discard()
		return notary.PlaceOfferResult{}, nil, err
	}

	book := l.books.Book(o.Key())
	fills, err := book.Place(o)
	if err != nil {
		t.discard()
		return notary.PlaceOfferResult{}, nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}

	res := notary.PlaceOfferResult{Offer: o}
	for _, f := range fills {
		if err := l.settle(t, book, o, f); err != nil {
			t.discard()
			if rerr := l.reloadBook(o.Key()); rerr != nil {
				l.log.Errorw("book_reload_failed", "market", o.Key().String(), "err", rerr)
			}
			return notary.PlaceOfferResult{}, nil, fmt.Errorf("settle fill %d/%d: %w", f.TakerTx, f.MakerTx, err)
		}
		res.Offer.Filled += f.Assets
		res.Fills = append(res.Fills, notary.Fill{TakerTx: f.TakerTx, MakerTx: f.MakerTx, MakerNym: f.MakerNym, Price: f.Price, Assets: f.Assets})
	}
	if resting, ok := book.Get(o.TransactionID); ok {
		res.Resting = true
		res.Offer = resting
		if err := t.put(storage.Key("offer", storage.Num(o.TransactionID)), resting); err != nil {
			t.discard()
			return notary.PlaceOfferResult{}, nil, err
		}
	}

	receipts, err := t.commit()
	if err != nil {
		return notary.PlaceOfferResult{}, nil, err
	}
	l.log.Infow("offer_placed", "nym", nymID, "tx", o.TransactionID, "market", o.Key().String(),
		"side", o.Side.String(), "price", o.PriceForScale, "fills", len(fills), "resting", res.Resting)
	return res, receipts, nil
}

// settle moves assets and currency for one fill and updates the maker's stored offer.
func (l *Ledger) settle(t *txn, book *market.Book, taker offer.Offer, f market.Fill) error {
	var maker offer.Offer
	makerKey := storage.Key("offer", storage.Num(f.MakerTx))
	ok, err := l.db.GetJSON(makerKey, &maker)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: maker %d", ErrUnknownOffer, f.MakerTx)
	}

	buyer, seller := taker, maker
	if taker.Side == offer.Sell {
		buyer, seller = maker, taker
	}
	ref := strconv.FormatInt(f.TakerTx, 10) + "/" + strconv.FormatInt(f.MakerTx, 10)
	if err := t.transfer(seller.AssetAccountID, buyer.AssetAccountID, f.Assets, "market", ref); err != nil {
		return err
	}
	if err := t.transfer(buyer.CurrencyAccountID, seller.CurrencyAccountID, cost(f.Price, f.Assets, taker.Scale), "market", ref); err != nil {
		return err
	}

	if current, ok := book.Get(f.MakerTx); ok {
		return t.put(makerKey, current)
	}
	return t.del(makerKey)
}

// CancelOffer removes a resting offer placed from accountID.
func (l *Ledger) CancelOffer(nymID, accountID string, transactionID int64) (offer.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	book, ok := l.books.Lookup(transactionID)
	if !ok {
		return offer.Offer{}, fmt.Errorf("%w: %d", ErrUnknownOffer, transactionID)
	}
	o, _ := book.Get(transactionID)
	if o.NymID != nymID {
		return offer.Offer{}, fmt.Errorf("%w: offer %d", ErrNotOwner, transactionID)
	}
	if accountID != o.AssetAccountID && accountID != o.CurrencyAccountID {
		return offer.Offer{}, fmt.Errorf("%w: offer %d not placed from %s", ErrInvalidRequest, transactionID, accountID)
	}
	if err := l.db.Delete(storage.Key("offer", storage.Num(transactionID))); err != nil {
		return offer.Offer{}, err
	}
	book.Cancel(transactionID)
	l.log.Infow("offer_cancelled", "nym", nymID, "tx", transactionID)
	return o, nil
}

// reloadBook rebuilds a market's book from the stored offers, undoing
// in-memory matches of a transaction that did not commit.
func (l *Ledger) reloadBook(key offer.MarketKey) error {
	book := market.NewBook(key)
	err := l.db.Scan(storage.Prefix("offer"), func(_, v []byte) error {
		var o offer.Offer
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		if o.Key() != key {
			return nil
		}
		return book.Restore(o)
	})
	if err != nil {
		return err
	}
	l.books.Replace(book)
	return nil
}

// cost is price-per-scale times assets over scale, in currency minor units.
func cost(pricePerScale, assets, scale int64) int64 {
	return pricePerScale * assets / scale
}
