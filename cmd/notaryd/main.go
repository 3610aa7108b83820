package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/otxwallet/params"
	"github.com/uhyunpark/otxwallet/pkg/api"
	"github.com/uhyunpark/otxwallet/pkg/ledger"
	"github.com/uhyunpark/otxwallet/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	l, err := ledger.Open(cfg.Notary.DBPath, cfg.Notary.ServerID, util.RealClock{}, sugar)
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "path", cfg.Notary.DBPath, "err", err)
	}
	defer l.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := api.NewServer(l, cfg.Notary.AllowedOrigins, sugar)
	defer apiServer.Hub().Stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Notary.APIAddr, "server_id", cfg.Notary.ServerID)
		if err := apiServer.Start(cfg.Notary.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Payment plan installments fall due on the notary's clock.
	ticker := time.NewTicker(cfg.Notary.PlanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("notary_stopping")
			return
		case <-ticker.C:
			paid, err := l.RunPlans()
			if err != nil {
				sugar.Errorw("run_plans_failed", "err", err)
				continue
			}
			if paid > 0 {
				sugar.Infow("plan_payments", "count", paid)
			}
		}
	}
}
