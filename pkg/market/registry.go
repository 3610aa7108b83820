package market

import (
	"sort"
	"sync"

	"github.com/uhyunpark/otxwallet/pkg/offer"
)

// Registry holds one Book per market, created on first use.
type Registry struct {
	mu    sync.RWMutex
	books map[offer.MarketKey]*Book
}

func NewRegistry() *Registry {
	return &Registry{books: make(map[offer.MarketKey]*Book)}
}

// Book returns the market's book, creating it if needed.
func (r *Registry) Book(key offer.MarketKey) *Book {
	r.mu.RLock()
	b, ok := r.books[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[key]; ok {
		return b
	}
	b = NewBook(key)
	r.books[key] = b
	return b
}

// Replace swaps in a rebuilt book for its market.
func (r *Registry) Replace(b *Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[b.Key()] = b
}

// Lookup finds the book a resting offer lives in.
func (r *Registry) Lookup(transactionID int64) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.books {
		if _, ok := b.Get(transactionID); ok {
			return b, true
		}
	}
	return nil, false
}

// Markets lists markets that currently hold offers, in key order.
func (r *Registry) Markets() []offer.MarketKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]offer.MarketKey, 0, len(r.books))
	for k, b := range r.books {
		if b.Len() > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// NymOffers returns every resting offer a nym has on this server.
func (r *Registry) NymOffers(nymID string) []offer.Offer {
	var out []offer.Offer
	for _, k := range r.Markets() {
		for _, o := range r.Book(k).Offers() {
			if o.NymID == nymID {
				out = append(out, o)
			}
		}
	}
	return out
}
