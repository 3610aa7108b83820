package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/uhyunpark/otxwallet/params"
	"github.com/uhyunpark/otxwallet/pkg/p2p"
	"github.com/uhyunpark/otxwallet/pkg/util"
	"github.com/uhyunpark/otxwallet/pkg/wallet"
)

var (
	cfg = params.LoadFromEnv("")

	logLevel string
	useP2P   bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.Wallet.DataDir, "data", cfg.Wallet.DataDir, "wallet data directory")
	flags.StringVar(&cfg.Wallet.NotaryURL, "notary", cfg.Wallet.NotaryURL, "notary base URL")
	flags.StringVar(&cfg.Wallet.ServerID, "server", cfg.Wallet.ServerID, "notary server id")
	flags.StringVar(&cfg.Wallet.NymID, "nym", cfg.Wallet.NymID, "nym id or name to act as")
	flags.StringVar(&logLevel, "log-level", "warn", "console log level")
	flags.BoolVar(&useP2P, "p2p", cfg.P2P.ListenAddr != "", "send and receive instruments over libp2p")

	rootCmd.AddCommand(nymCmd, accountCmd, contactCmd, offerCmd, contractCmd, confirmCmd, paymentsCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "otxwallet",
	Short: "Wallet for an OTX notary: nyms, accounts, market offers and smart contracts",
	Long: `otxwallet keeps nym keys, asset accounts and a payments inbox in a local
data directory and talks to one notary over signed HTTP requests.

Market offers are reconciled before they are placed: resting offers of the
same nym that the new offer would cross are cancelled first. Smart contracts
are passed from party to party until every party has confirmed, and the last
party activates them on the notary.`,
	SilenceUsage: true,
}

// session is an open wallet plus what a command needs around it.
type session struct {
	w   *wallet.Wallet
	log *zap.SugaredLogger
	net *p2p.Libp2pNet
	nym string
}

func (s *session) Close() {
	if s.net != nil {
		s.net.Close()
	}
	s.w.Close()
	s.log.Sync()
}

// open loads the wallet. With needNym the --nym selector must resolve to a
// local nym.
func open(ctx context.Context, needNym bool) (*session, error) {
	logger, err := util.NewCLILogger(cfg.Wallet.LogFile, logLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log := logger.Sugar()

	w, err := wallet.Open(wallet.Config{
		DataDir:   cfg.Wallet.DataDir,
		NotaryURL: cfg.Wallet.NotaryURL,
		ServerID:  cfg.Wallet.ServerID,
		Timeout:   cfg.Wallet.RequestTimeout,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}
	s := &session{w: w, log: log}

	if needNym {
		if s.nym, err = w.ResolveNym(cfg.Wallet.NymID); err != nil {
			s.Close()
			return nil, err
		}
	}
	if useP2P {
		n, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     log,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("libp2p: %w", err)
		}
		s.net = n
		w.AttachNet(n)
	}
	return s, nil
}
