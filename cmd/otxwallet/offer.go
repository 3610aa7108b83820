package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/otxwallet/pkg/confirm"
	"github.com/uhyunpark/otxwallet/pkg/offer"
	"github.com/uhyunpark/otxwallet/pkg/operator"
)

var (
	offerAssetAcct    string
	offerCurrencyAcct string
	offerScale        int64
	offerPrice        int64
	offerSide         string
	offerAssets       int64
	offerMinIncrement int64
	offerCancelAcct   string
)

var offerCmd = &cobra.Command{Use: "offer", Short: "Market offers"}

var offerNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Cancel crossing offers of --nym, then place a new one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := open(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		side, err := offer.ParseSide(offerSide)
		if err != nil {
			return err
		}
		asset, err := localAccount(s, offerAssetAcct)
		if err != nil {
			return err
		}
		currency, err := localAccount(s, offerCurrencyAcct)
		if err != nil {
			return err
		}

		rec := offer.NewReconciler(s.w, s.log)
		res, err := rec.Clean(ctx, s.nym, s.w.ServerID(), offer.Candidate{
			AssetAccountID:    asset.ID,
			CurrencyAccountID: currency.ID,
			Scale:             offerScale,
			Price:             offerPrice,
			Side:              side,
		})
		out := cmd.OutOrStdout()
		for _, tx := range res.Cancelled {
			fmt.Fprintf(out, "cancelled crossing offer %d\n", tx)
		}
		if err != nil {
			return fmt.Errorf("offer not placed: %w", err)
		}

		placed, err := s.w.PlaceOffer(ctx, s.nym, offer.Offer{
			AssetAccountID:    asset.ID,
			CurrencyAccountID: currency.ID,
			AssetTypeID:       asset.InstrumentDefinitionID,
			CurrencyTypeID:    currency.InstrumentDefinitionID,
			Scale:             offerScale,
			PriceForScale:     offerPrice,
			Side:              side,
			TotalAssets:       offerAssets,
			MinIncrement:      offerMinIncrement,
		})
		if err != nil {
			return err
		}
		for _, f := range placed.Fills {
			fmt.Fprintf(out, "filled %d at %d against %d\n", f.Assets, f.Price, f.MakerTx)
		}
		if placed.Resting {
			fmt.Fprintf(out, "offer %d resting, %d of %d left\n",
				placed.Offer.TransactionID, placed.Offer.Remaining(), placed.Offer.TotalAssets)
		}
		return nil
	},
}

var offerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Download and list the resting offers of --nym, per market",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := open(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		records, err := s.w.LoadOffers(cmd.Context(), s.nym, s.w.ServerID())
		if err != nil {
			return err
		}
		book, err := offer.NewBook(records)
		if err != nil {
			return err
		}
		if book.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no resting offers")
			return nil
		}
		for _, key := range book.Markets() {
			var rows [][]string
			for _, o := range book.Offers(key) {
				rows = append(rows, []string{
					strconv.FormatInt(o.TransactionID, 10),
					o.Side.String(),
					strconv.FormatInt(o.PriceForScale, 10),
					fmt.Sprintf("%d/%d", o.Remaining(), o.TotalAssets),
					o.AssetAccountID,
					o.CurrencyAccountID,
				})
			}
			operator.RenderTable(cmd.OutOrStdout(), key.String(),
				[]string{"tx", "side", "price", "remaining", "asset account", "currency account"}, rows)
		}
		return nil
	},
}

var offerCancelCmd = &cobra.Command{
	Use:   "cancel [transaction-id]",
	Short: "Cancel one resting offer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tx, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("transaction id: %w", err)
		}
		s, err := open(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.w.CancelOffer(cmd.Context(), s.nym, s.w.ServerID(), offerCancelAcct, tx)
	},
}

// localAccount finds one of the session nym's accounts by id or name.
func localAccount(s *session, selector string) (confirm.Account, error) {
	accts, err := s.w.Store().Accounts()
	if err != nil {
		return confirm.Account{}, err
	}
	for _, a := range accts {
		if a.NymID == s.nym && (a.ID == selector || a.Name == selector) {
			return a, nil
		}
	}
	return confirm.Account{}, fmt.Errorf("no account %q for %s", selector, s.nym)
}

func init() {
	f := offerNewCmd.Flags()
	f.StringVar(&offerAssetAcct, "asset-account", "", "asset account id or name")
	f.StringVar(&offerCurrencyAcct, "currency-account", "", "currency account id or name")
	f.Int64Var(&offerScale, "scale", 1, "market scale")
	f.Int64Var(&offerPrice, "price", 0, "price per scale, in currency minor units")
	f.StringVar(&offerSide, "side", "", "buy or sell")
	f.Int64Var(&offerAssets, "assets", 0, "total assets to trade")
	f.Int64Var(&offerMinIncrement, "min-increment", 0, "smallest fill (defaults to the scale)")
	for _, name := range []string{"asset-account", "currency-account", "price", "side", "assets"} {
		offerNewCmd.MarkFlagRequired(name)
	}

	offerCancelCmd.Flags().StringVar(&offerCancelAcct, "account", "", "asset or currency account of the offer")
	offerCancelCmd.MarkFlagRequired("account")

	offerCmd.AddCommand(offerNewCmd, offerListCmd, offerCancelCmd)
}
