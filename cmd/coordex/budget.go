package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/budget"
	"github.com/ShayCichocki/coordex/pkg/models"
)

var (
	budgetPeriod string
	budgetAmount float64
	budgetLimit  float64
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show and record spend against daily/weekly/monthly budgets",
}

func init() {
	budgetShowCmd.Flags().StringVar(&budgetPeriod, "period", string(models.PeriodDaily), "daily, weekly, or monthly")
	budgetRecordCmd.Flags().StringVar(&budgetPeriod, "period", string(models.PeriodDaily), "daily, weekly, or monthly")
	budgetRecordCmd.Flags().Float64Var(&budgetAmount, "amount", 0, "amount spent, in dollars (required)")
	budgetRecordCmd.Flags().Float64Var(&budgetLimit, "limit", 0, "budget ceiling for this period, in dollars (0 = disabled)")
	budgetRecordCmd.MarkFlagRequired("amount")

	budgetCmd.AddCommand(budgetShowCmd)
	budgetCmd.AddCommand(budgetRecordCmd)
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current period's spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		db, err := openStore(ctx, log)
		if err != nil {
			return fail(err)
		}
		defer db.Close()

		tracker := budget.New(db, log)
		period, err := tracker.Status(ctx, models.BudgetPeriodKind(budgetPeriod))
		if err != nil {
			return fail(err)
		}
		info(budget.Summary(period))
		return nil
	},
}

var budgetRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an amount of spend against the current period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		db, err := openStore(ctx, log)
		if err != nil {
			return fail(err)
		}
		defer db.Close()

		tracker := budget.New(db, log)
		warning, err := tracker.RecordCost(ctx, budgetAmount, models.BudgetPeriodKind(budgetPeriod), budgetLimit)
		if err != nil {
			return fail(err)
		}
		ok("recorded $%.4f against %s budget", budgetAmount, budgetPeriod)
		if warning != nil {
			warn("budget at %.0f%% of limit: spent %s of %s", warning.FractionUsed*100, warning.Spent, warning.Limit)
		}
		return nil
	},
}
