package offer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrCancelRejected wraps a notary rejection of a cancel-offer request.
var ErrCancelRejected = errors.New("cancel offer rejected")

// Candidate describes the offer about to be placed.
type Candidate struct {
	AssetAccountID    string
	CurrencyAccountID string
	Scale             int64
	Price             int64 // per Scale, currency minor units
	Side              Side
}

// Crosses reports whether the resting offer would leave the nym in an
// irrational position once the candidate is placed: a cheaper resting sell
// under a new buy, or a pricier resting buy over a new sell.
func (c Candidate) Crosses(o Offer) bool {
	if o.AssetAccountID != c.AssetAccountID ||
		o.CurrencyAccountID != c.CurrencyAccountID ||
		o.Scale != c.Scale {
		return false
	}
	switch {
	case c.Side == Buy && o.Side == Sell:
		return o.PriceForScale < c.Price
	case c.Side == Sell && o.Side == Buy:
		return o.PriceForScale > c.Price
	default:
		return false
	}
}

// FindStrangeOffers returns the transaction ids the candidate crosses.
func FindStrangeOffers(b *Book, c Candidate) []int64 {
	return b.Select(c.Crosses)
}

// OfferSource is the notary-facing side of the reconciler.
type OfferSource interface {
	// LoadOffers returns the nym's resting offers on the server.
	LoadOffers(ctx context.Context, nymID, serverID string) ([]Record, error)
	// CancelOffer asks the notary to cancel one offer and interprets the reply.
	CancelOffer(ctx context.Context, nymID, serverID, accountID string, transactionID int64) error
}

// Result summarises one reconciliation pass.
type Result struct {
	Scanned   int
	Marked    []int64
	Cancelled []int64
}

// Reconciler cancels a nym's offers that conflict with a new offer.
type Reconciler struct {
	source OfferSource
	log    *zap.SugaredLogger
}

func NewReconciler(source OfferSource, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reconciler{source: source, log: log}
}

// Clean must succeed before the candidate is placed.
// Cancellation stops at the first rejection; offers already cancelled stay cancelled
// and are reported in the returned Result.
func (r *Reconciler) Clean(ctx context.Context, nymID, serverID string, c Candidate) (Result, error) {
	records, err := r.source.LoadOffers(ctx, nymID, serverID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrOffersLoad, err)
	}
	book, err := NewBook(records)
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: book.Len()}
	if book.Len() == 0 {
		r.log.Debugw("offer_book_empty", "nym", nymID, "server", serverID)
		return res, nil
	}

	res.Marked = FindStrangeOffers(book, c)
	for _, id := range res.Marked {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.source.CancelOffer(ctx, nymID, serverID, c.AssetAccountID, id); err != nil {
			r.log.Warnw("offer_cancel_failed", "tx", id, "err", err)
			return res, fmt.Errorf("%w: transaction %d: %v", ErrCancelRejected, id, err)
		}
		r.log.Infow("offer_cancelled", "tx", id, "account", c.AssetAccountID)
		res.Cancelled = append(res.Cancelled, id)
	}
	return res, nil
}
