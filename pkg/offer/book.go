package offer

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOffersLoad is returned when the offer list cannot be turned into a Book.
// Callers must stop: a partial book would let the reconciler miss offers.
var ErrOffersLoad = errors.New("failed to load nym offers")

// Book groups a nym's resting offers per market.
// It is built fresh for one reconciliation pass and then dropped.
type Book struct {
	markets map[MarketKey]map[int64]Offer
	count   int
}

// NewBook parses every record and groups the offers by MarketKey.
// The first unparsable record aborts the whole build.
func NewBook(records []Record) (*Book, error) {
	b := &Book{markets: make(map[MarketKey]map[int64]Offer)}
	for i, r := range records {
		o, err := ParseRecord(r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrOffersLoad, i, err)
		}
		if err := b.add(o); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrOffersLoad, i, err)
		}
	}
	return b, nil
}

// BookFromOffers groups already-decoded offers. Duplicate transaction ids keep the last offer.
func BookFromOffers(offers []Offer) *Book {
	b := &Book{markets: make(map[MarketKey]map[int64]Offer)}
	for _, o := range offers {
		sub := b.sub(o.Key())
		if _, dup := sub[o.TransactionID]; !dup {
			b.count++
		}
		sub[o.TransactionID] = o
	}
	return b
}

func (b *Book) sub(key MarketKey) map[int64]Offer {
	sub, ok := b.markets[key]
	if !ok {
		sub = make(map[int64]Offer)
		b.markets[key] = sub
	}
	return sub
}

func (b *Book) add(o Offer) error {
	sub := b.sub(o.Key())
	if _, dup := sub[o.TransactionID]; dup {
		return fmt.Errorf("duplicate transaction id %d", o.TransactionID)
	}
	sub[o.TransactionID] = o
	b.count++
	return nil
}

// Len returns the number of offers across all markets.
func (b *Book) Len() int { return b.count }

// Markets returns the market keys in a stable order.
func (b *Book) Markets() []MarketKey {
	keys := make([]MarketKey, 0, len(b.markets))
	for k := range b.markets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// Offers returns the offers of one market ordered by transaction id.
func (b *Book) Offers(key MarketKey) []Offer {
	sub := b.markets[key]
	out := make([]Offer, 0, len(sub))
	for _, o := range sub {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

// Select visits every offer, market by market, and returns the transaction ids
// the predicate accepted, in visiting order.
func (b *Book) Select(pred func(Offer) bool) []int64 {
	var marked []int64
	for _, key := range b.Markets() {
		for _, o := range b.Offers(key) {
			if pred(o) {
				marked = append(marked, o.TransactionID)
			}
		}
	}
	return marked
}
