package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/punchamoorthee/atelierops/internal/service"
	"github.com/punchamoorthee/atelierops/internal/store"
)

var (
	dbURL     string
	accountID int64
)

func init() {
	flag.StringVar(&dbURL, "db", os.Getenv("DATABASE_URL"), "Postgres connection string")
	flag.Int64Var(&accountID, "account", 0, "Reconcile a single account (0 = all)")
}

// Recomputes account balances from the transaction log and reports drift.
// Exits non-zero when any account drifts, so it can gate a cron alert.
func main() {
	flag.Parse()
	if dbURL == "" {
		log.Fatal("DATABASE_URL or -db is required")
	}

	logger := slog.New(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "reconciler",
	}))

	ctx := context.Background()
	st, err := store.New(ctx, dbURL)
	if err != nil {
		log.Fatal("database connect failed", "error", err)
	}
	defer st.Close()

	ledger := service.NewLedger(st.Pool, logger)

	ids := []int64{accountID}
	if accountID == 0 {
		ids, err = st.ListAccountIDs(ctx)
		if err != nil {
			log.Fatal("account list failed", "error", err)
		}
	}

	drifted := 0
	for _, id := range ids {
		report, err := ledger.Reconcile(ctx, id)
		if err != nil {
			log.Fatal("reconcile failed", "account_id", id, "error", err)
		}
		if report.Drift {
			drifted++
			logger.Warn("balance drift",
				"account_id", report.AccountID,
				"balance", report.Balance,
				"expected_balance", report.ExpectedBalance,
				"earned", report.Earned,
				"expected_earned", report.ExpectedEarned)
		}
	}

	logger.Info("reconcile finished", "accounts", len(ids), "drifted", drifted)
	if drifted > 0 {
		os.Exit(1)
	}
}
