package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"matrimony-billing/internal/infra/sched"
)

func reconcileCmd() *cobra.Command {
	var paymentID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass, or reconcile a single payment",
		Long: `Repair completed payments without an entitlement, settle pending Epoint
payments from their gateway status and fail abandoned checkouts.

Examples:
  billingctl reconcile
  billingctl reconcile --id 3f2c9a5e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()
			out := cmd.OutOrStdout()

			if paymentID != "" {
				res, err := e.payments.ReconcileByID(ctx, paymentID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s (status %s)\n", res.Payment.ID, res.Action, res.Payment.Status)
				return nil
			}

			job := sched.NewPaymentReconciler(e.payments, e.repo, nil, nil, sched.ReconcilerOptions{
				StaleAfter: e.cfg.Scheduler.StaleAfter,
				BatchSize:  e.cfg.Scheduler.BatchSize,
			}, e.log)
			sum, err := job.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scanned %d, errors %d\n", sum.Scanned, sum.Errors)
			for action, n := range sum.Actions {
				fmt.Fprintf(out, "  %-10s %d\n", action, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&paymentID, "id", "", "reconcile only this payment")
	return cmd
}
