package offer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkOffer(tx int64, scale int64, asset, currency string, side Side, price int64) Offer {
	return Offer{
		TransactionID:     tx,
		AssetAccountID:    "acct-" + asset,
		CurrencyAccountID: "acct-" + currency,
		AssetTypeID:       asset,
		CurrencyTypeID:    currency,
		Scale:             scale,
		PriceForScale:     price,
		Side:              side,
		TotalAssets:       100,
	}
}

func records(t *testing.T, offers ...Offer) []Record {
	t.Helper()
	out := make([]Record, 0, len(offers))
	for _, o := range offers {
		r, err := EncodeRecord(o)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestNewBook_GroupsByMarket(t *testing.T) {
	offers := []Offer{
		mkOffer(1, 10, "X", "Y", Sell, 35),
		mkOffer(2, 10, "X", "Y", Buy, 25),
		mkOffer(3, 1, "X", "Y", Buy, 3),
		mkOffer(4, 10, "X", "Z", Buy, 25),
		mkOffer(5, 10, "W", "Y", Sell, 40),
	}
	book, err := NewBook(records(t, offers...))
	require.NoError(t, err)
	require.Equal(t, 5, book.Len())
	require.Len(t, book.Markets(), 4)

	// Same bucket iff (scale, asset type, currency type) match.
	for _, a := range offers {
		for _, b := range offers {
			same := false
			for _, o := range book.Offers(a.Key()) {
				if o.TransactionID == b.TransactionID {
					same = true
				}
			}
			assert.Equal(t, a.Key() == b.Key(), same, "offers %d and %d", a.TransactionID, b.TransactionID)
		}
	}
}

func TestNewBook_DoesNotMutateInput(t *testing.T) {
	recs := records(t, mkOffer(1, 10, "X", "Y", Sell, 35))
	before := string(recs[0])
	_, err := NewBook(recs)
	require.NoError(t, err)
	assert.Equal(t, before, string(recs[0]))
}

func TestNewBook_LoadFailure(t *testing.T) {
	tests := []struct {
		name string
		recs []Record
	}{
		{"garbage", []Record{Record(`{not json`)}},
		{"empty", []Record{nil}},
		{"zero scale", []Record{Record(`{"transaction_id":1,"asset_account_id":"a","currency_account_id":"c","asset_type_id":"X","currency_type_id":"Y","scale":0,"side":"buy"}`)}},
		{"bad side", []Record{Record(`{"transaction_id":1,"asset_account_id":"a","currency_account_id":"c","asset_type_id":"X","currency_type_id":"Y","scale":1,"side":"hold"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid := records(t, mkOffer(9, 10, "X", "Y", Buy, 1))
			book, err := NewBook(append(valid, tt.recs...))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOffersLoad))
			assert.Nil(t, book, "no partial result")
		})
	}
}

func TestNewBook_DuplicateTransactionID(t *testing.T) {
	_, err := NewBook(records(t,
		mkOffer(7, 10, "X", "Y", Buy, 1),
		mkOffer(7, 10, "X", "Y", Sell, 2),
	))
	require.ErrorIs(t, err, ErrOffersLoad)
}

func TestBook_SelectOrder(t *testing.T) {
	book := BookFromOffers([]Offer{
		mkOffer(30, 10, "X", "Y", Sell, 1),
		mkOffer(10, 10, "X", "Y", Sell, 1),
		mkOffer(20, 1, "X", "Y", Sell, 1),
	})
	got := book.Select(func(Offer) bool { return true })
	// scale 1 market sorts first, then ids ascending within a market
	assert.Equal(t, []int64{20, 10, 30}, got)
}

func TestOffer_UnitPrice(t *testing.T) {
	o := mkOffer(1, 10, "X", "Y", Buy, 35)
	p := o.UnitPrice()
	f, err := p.Float64()
	require.NoError(t, err)
	assert.InDelta(t, 3.5, f, 1e-9)
	assert.Equal(t, int64(100), o.Remaining())
}

func TestSideJSON(t *testing.T) {
	for _, s := range []Side{Buy, Sell} {
		b, err := s.MarshalJSON()
		require.NoError(t, err)
		var got Side
		require.NoError(t, got.UnmarshalJSON(b))
		assert.Equal(t, s, got, fmt.Sprint(s))
	}
	_, err := Side(0).MarshalJSON()
	assert.Error(t, err)
}
