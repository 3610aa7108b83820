// Package market keeps the notary's resting offers, one price-time book per
// market, and matches newly placed offers against them.
package market

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/otxwallet/pkg/offer"
)

var (
	ErrDuplicateOffer = errors.New("offer already resting")
	ErrWrongMarket    = errors.New("offer belongs to another market")
)

// Fill is one match between a new offer (taker) and a resting one (maker).
type Fill struct {
	TakerTx  int64  `json:"taker_tx"`
	MakerTx  int64  `json:"maker_tx"`
	MakerNym string `json:"maker_nym"`
	Price    int64  `json:"price"`
	Assets   int64  `json:"assets"`
}

type PriceLevel struct {
	Price  int64 `json:"price"`
	Assets int64 `json:"assets"` // remaining assets at this price
}

// Book is a price-time book for a single MarketKey.
type Book struct {
	mu  sync.RWMutex
	key offer.MarketKey

	bidHeap *priceHeap
	askHeap *priceHeap

	bids map[int64][]*offer.Offer // price -> FIFO
	asks map[int64][]*offer.Offer

	index map[int64]*offer.Offer // transaction id -> resting offer

	lastPrice int64
}

func NewBook(key offer.MarketKey) *Book {
	b := &Book{
		key:     key,
		bidHeap: &priceHeap{desc: true},
		askHeap: &priceHeap{},
		bids:    make(map[int64][]*offer.Offer),
		asks:    make(map[int64][]*offer.Offer),
		index:   make(map[int64]*offer.Offer),
	}
	heap.Init(b.bidHeap)
	heap.Init(b.askHeap)
	return b
}

func (b *Book) Key() offer.MarketKey { return b.key }

func (b *Book) side(s offer.Side) (map[int64][]*offer.Offer, *priceHeap) {
	if s == offer.Buy {
		return b.bids, b.bidHeap
	}
	return b.asks, b.askHeap
}

func (b *Book) rest(o *offer.Offer) {
	levels, h := b.side(o.Side)
	if len(levels[o.PriceForScale]) == 0 {
		heap.Push(h, o.PriceForScale)
	}
	levels[o.PriceForScale] = append(levels[o.PriceForScale], o)
	b.index[o.TransactionID] = o
}

func (b *Book) dropLevel(s offer.Side, price int64) {
	levels, h := b.side(s)
	delete(levels, price)
	for i := 0; i < h.Len(); i++ {
		if h.prices[i] == price {
			heap.Remove(h, i)
			return
		}
	}
}

// Place matches o against the opposite side by price then time; the
// unfilled remainder rests. Offers never trade against the same nym.
func (b *Book) Place(o offer.Offer) ([]Fill, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Key() != b.key {
		return nil, fmt.Errorf("%w: %s not %s", ErrWrongMarket, o.Key(), b.key)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[o.TransactionID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateOffer, o.TransactionID)
	}

	taker := o
	opposite := offer.Sell
	if taker.Side == offer.Sell {
		opposite = offer.Buy
	}
	levels, h := b.side(opposite)

	var fills []Fill
	var skipped []int64 // levels holding only our own offers
	for taker.Remaining() > 0 {
		best, ok := h.peek()
		if !ok {
			break
		}
		if (taker.Side == offer.Buy && best > taker.PriceForScale) ||
			(taker.Side == offer.Sell && best < taker.PriceForScale) {
			break
		}

		matched := false
		queue := levels[best]
		for i := 0; i < len(queue) && taker.Remaining() > 0; {
			maker := queue[i]
			if maker.NymID == taker.NymID {
				i++
				continue
			}
			qty := min(taker.Remaining(), maker.Remaining())
			taker.Filled += qty
			maker.Filled += qty
			b.lastPrice = best
			matched = true
			fills = append(fills, Fill{
				TakerTx:  taker.TransactionID,
				MakerTx:  maker.TransactionID,
				MakerNym: maker.NymID,
				Price:    best,
				Assets:   qty,
			})
			if maker.Remaining() == 0 {
				delete(b.index, maker.TransactionID)
				queue = append(queue[:i], queue[i+1:]...)
				continue
			}
			i++
		}
		levels[best] = queue
		if len(queue) == 0 {
			b.dropLevel(opposite, best)
			continue
		}
		if !matched || taker.Remaining() > 0 {
			// only our own offers left at this level; set it aside
			heap.Pop(h)
			skipped = append(skipped, best)
		}
	}
	for _, p := range skipped {
		heap.Push(h, p)
	}

	if taker.Remaining() > 0 {
		cp := taker
		b.rest(&cp)
	}
	return fills, nil
}

// Cancel removes a resting offer. It reports false if the offer is not resting.
func (b *Book) Cancel(transactionID int64) (offer.Offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[transactionID]
	if !ok {
		return offer.Offer{}, false
	}
	levels, _ := b.side(o.Side)
	queue := levels[o.PriceForScale]
	for i, q := range queue {
		if q.TransactionID == transactionID {
			levels[o.PriceForScale] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(levels[o.PriceForScale]) == 0 {
		b.dropLevel(o.Side, o.PriceForScale)
	}
	delete(b.index, transactionID)
	return *o, true
}

// Get returns a snapshot of a resting offer.
func (b *Book) Get(transactionID int64) (offer.Offer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.index[transactionID]
	if !ok {
		return offer.Offer{}, false
	}
	return *o, true
}

// Offers returns snapshots of every resting offer, by transaction id.
func (b *Book) Offers() []offer.Offer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]offer.Offer, 0, len(b.index))
	for _, o := range b.index {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// BidLevels returns bid levels, best (highest) first.
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := aggregate(b.bids)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	return levels
}

// AskLevels returns ask levels, best (lowest) first.
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := aggregate(b.asks)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	return levels
}

func aggregate(side map[int64][]*offer.Offer) []PriceLevel {
	var levels []PriceLevel
	for price, queue := range side {
		var total int64
		for _, o := range queue {
			total += o.Remaining()
		}
		if total > 0 {
			levels = append(levels, PriceLevel{Price: price, Assets: total})
		}
	}
	return levels
}

// LastPrice is the price of the most recent fill, 0 before any trade.
func (b *Book) LastPrice() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}

// Restore rests a previously persisted offer without matching it.
func (b *Book) Restore(o offer.Offer) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.Key() != b.key {
		return fmt.Errorf("%w: %s not %s", ErrWrongMarket, o.Key(), b.key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.index[o.TransactionID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOffer, o.TransactionID)
	}
	if o.Remaining() > 0 {
		cp := o
		b.rest(&cp)
	}
	return nil
}
