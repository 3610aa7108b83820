package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/otxwallet/pkg/api"
	"github.com/uhyunpark/otxwallet/pkg/notary"
	"github.com/uhyunpark/otxwallet/pkg/offer"
)

var watchMarkets []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream notary events for --nym; with --p2p also accept instruments from peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := open(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		signer, err := s.w.Signer(s.nym)
		if err != nil {
			return err
		}
		channel := notary.NymChannel(s.nym)
		sig, err := signer.SignMessage([]byte(channel))
		if err != nil {
			return err
		}
		channels := []string{channel}
		for _, m := range watchMarkets {
			key, err := parseMarket(m)
			if err != nil {
				return err
			}
			channels = append(channels, notary.MarketChannel(key))
		}

		wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(cfg.Wallet.NotaryURL, "/"), "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", wsURL, err)
		}
		defer conn.Close()
		if err := conn.WriteJSON(api.WSSubscribeRequest{Op: "subscribe", Channels: channels, Signature: hexutil.Encode(sig)}); err != nil {
			return err
		}
		if s.net != nil {
			for _, a := range s.net.Addrs() {
				fmt.Fprintf(cmd.ErrOrStderr(), "listening for instruments on %s\n", a)
			}
		}

		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		out := cmd.OutOrStdout()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			var ev struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(raw, &ev); err != nil {
				s.log.Debugw("ws_message_skipped", "err", err)
				continue
			}
			fmt.Fprintf(out, "%s %s\n", ev.Type, ev.Data)
			if ev.Type == notary.EventPaymentReceived {
				if _, err := s.w.FetchPayments(ctx, s.nym); err != nil {
					s.log.Warnw("fetch_payments_failed", "err", err)
				}
			}
		}
	},
}

// parseMarket reads SCALE:ASSET/CURRENCY, the form MarketKey.String prints.
func parseMarket(s string) (offer.MarketKey, error) {
	var key offer.MarketKey
	scale, pair, ok := strings.Cut(s, ":")
	asset, currency, ok2 := strings.Cut(pair, "/")
	if !ok || !ok2 || asset == "" || currency == "" {
		return key, fmt.Errorf("market %q: want scale:asset/currency", s)
	}
	if _, err := fmt.Sscan(scale, &key.Scale); err != nil || key.Scale <= 0 {
		return key, fmt.Errorf("market %q: bad scale", s)
	}
	key.AssetTypeID, key.CurrencyTypeID = asset, currency
	return key, nil
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchMarkets, "market", nil, "also stream order book updates, as scale:asset/currency")
}
