package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fintally/tally/internal/analyzer"
	"github.com/fintally/tally/internal/cache"
	"github.com/fintally/tally/internal/common"
	"github.com/fintally/tally/internal/executor"
	"github.com/fintally/tally/internal/ledger"
	"github.com/fintally/tally/internal/matcher"
	"github.com/fintally/tally/internal/model"
	"github.com/fintally/tally/internal/money"
	"github.com/fintally/tally/internal/parser"
	"github.com/fintally/tally/internal/recommend"
	"github.com/fintally/tally/internal/report"
)

type reconcileFlags struct {
	statement            string
	statementBalance     string
	statementDate        string
	dryRun               bool
	autoCreate           bool
	autoUpdateCleared    bool
	autoUnclear          bool
	autoAdjustDates      bool
	invertBankAmounts    bool
	noCache              bool
	amountToleranceCents int64
	dateToleranceDays    int
}

func reconcileCmd() *cobra.Command {
	flags := &reconcileFlags{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a statement CSV against the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReconcile(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.statement, "statement", "", "path to the bank statement CSV (required)")
	cmd.Flags().StringVar(&flags.statementBalance, "statement-balance", "", "statement ending balance, e.g. 122.22 (required)")
	cmd.Flags().StringVar(&flags.statementDate, "statement-date", "", "statement ending date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "simulate every action without writing to the ledger")
	cmd.Flags().BoolVar(&flags.autoCreate, "auto-create", false, "create ledger entries for unmatched statement lines")
	cmd.Flags().BoolVar(&flags.autoUpdateCleared, "auto-update-cleared", false, "mark auto-matched ledger entries cleared")
	cmd.Flags().BoolVar(&flags.autoUnclear, "auto-unclear", false, "un-clear ledger entries absent from the statement")
	cmd.Flags().BoolVar(&flags.autoAdjustDates, "auto-adjust-dates", false, "align matched ledger dates with the statement")
	cmd.Flags().BoolVar(&flags.invertBankAmounts, "invert", false, "negate statement amounts (for statements listing charges as positive)")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "bypass the local ledger fetch cache")
	cmd.Flags().Int64Var(&flags.amountToleranceCents, "amount-tolerance-cents", 1, "amount tolerance in cents")
	cmd.Flags().IntVar(&flags.dateToleranceDays, "date-tolerance-days", 3, "date tolerance in days")

	_ = cmd.MarkFlagRequired("statement")
	_ = cmd.MarkFlagRequired("statement-balance")

	return cmd
}

func runReconcile(ctx context.Context, flags *reconcileFlags) error {
	budgetID := viper.GetString("ledger.budget_id")
	accountID := viper.GetString("ledger.account_id")
	baseURL := viper.GetString("ledger.base_url")
	token := viper.GetString("ledger.token")
	if budgetID == "" || accountID == "" || baseURL == "" || token == "" {
		return common.NewUserError(
			"set ledger.base_url, ledger.token, ledger.budget_id, and ledger.account_id in the config file or TALLY_* environment", nil)
	}

	statementBalance, err := money.ParseMilli(flags.statementBalance)
	if err != nil {
		return common.NewUserError("invalid --statement-balance", err)
	}

	var statementDate *time.Time
	if flags.statementDate != "" {
		d, err := time.Parse("2006-01-02", flags.statementDate)
		if err != nil {
			return common.NewUserError("invalid --statement-date, expected YYYY-MM-DD", err)
		}
		statementDate = &d
	}

	bank, err := parser.ParseFile(flags.statement)
	if err != nil {
		return common.NewUserError("could not parse statement", err)
	}
	if len(bank) == 0 {
		return common.ErrNoBankTransactions
	}

	client := ledger.NewClient(baseURL, token)
	ledgerTxns, err := fetchLedger(ctx, client, budgetID, accountID, flags.noCache)
	if err != nil {
		return common.NewUserError("could not fetch ledger transactions", err)
	}

	toleranceMilli := money.CentsToMilli(flags.amountToleranceCents)
	cfg := matcher.DefaultConfig()
	cfg.AmountToleranceMilli = toleranceMilli
	cfg.DateToleranceDays = flags.dateToleranceDays

	analysis, err := analyzer.New(recommend.NewHeuristicEngine()).Analyze(ctx, analyzer.Input{
		Bank:                  bank,
		Ledger:                ledgerTxns,
		Config:                cfg,
		Currency:              viper.GetString("ledger.currency"),
		AccountID:             accountID,
		BudgetID:              budgetID,
		StatementBalanceMilli: statementBalance,
		BalanceToleranceMilli: toleranceMilli,
		InvertBankAmounts:     flags.invertBankAmounts,
	})
	if err != nil {
		return err
	}

	report.WriteAnalysis(os.Stdout, analysis)

	if !flags.autoCreate && !flags.autoUpdateCleared && !flags.autoUnclear {
		return nil
	}

	before, err := client.GetAccount(ctx, budgetID, accountID)
	if err != nil {
		return common.NewUserError("could not fetch account snapshot", err)
	}

	result, err := executor.New(client).Execute(ctx, analysis, executor.Params{
		BudgetID:                budgetID,
		AccountID:               accountID,
		Currency:                viper.GetString("ledger.currency"),
		StatementBalanceMilli:   statementBalance,
		StatementDate:           statementDate,
		AmountToleranceMilli:    toleranceMilli,
		DryRun:                  flags.dryRun,
		AutoCreateTransactions:  flags.autoCreate,
		AutoUpdateClearedStatus: flags.autoUpdateCleared,
		AutoUnclearMissing:      flags.autoUnclear,
		AutoAdjustDates:         flags.autoAdjustDates,
	}, before)
	if err != nil {
		return common.NewUserError("execution aborted", err)
	}

	report.WriteResult(os.Stdout, result)

	if !flags.dryRun && !flags.noCache {
		invalidateCache(ctx, budgetID, accountID)
	}
	return nil
}

// fetchLedger pulls the account's transactions, through the local
// cache unless bypassed.
func fetchLedger(ctx context.Context, client *ledger.Client, budgetID, accountID string, noCache bool) ([]model.LedgerTransaction, error) {
	var store *cache.Cache
	if !noCache {
		if c, err := cache.New(cachePath(), 15*time.Minute); err == nil {
			store = c
			defer func() {
				_ = store.Close()
			}()
			if txns, ok, err := store.Get(ctx, budgetID, accountID); err == nil && ok {
				return txns, nil
			}
		}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("fetching ledger transactions"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	txns, err := client.GetTransactions(ctx, budgetID, accountID, nil)
	_ = bar.Finish()
	if err != nil {
		return nil, err
	}

	if store != nil {
		if err := store.Put(ctx, budgetID, accountID, txns); err != nil {
			// Caching is best effort; a failure only costs a refetch.
			fmt.Fprintf(os.Stderr, "warning: could not cache ledger transactions: %v\n", err)
		}
	}
	return txns, nil
}

func invalidateCache(ctx context.Context, budgetID, accountID string) {
	store, err := cache.New(cachePath(), 15*time.Minute)
	if err != nil {
		return
	}
	defer func() {
		_ = store.Close()
	}()
	_ = store.Invalidate(ctx, budgetID, accountID)
}

func cachePath() string {
	if p := viper.GetString("cache.path"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tally-cache.db")
	}
	return filepath.Join(home, ".cache", "tally", "ledger.db")
}
