package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"matrimony-billing/internal/usecase"
)

func revenueCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "revenue",
		Short: "Completed revenue per currency",
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

			from := time.Now().Add(-since)
			totals, err := e.stats.Revenue(ctx, from)
			if err != nil {
				return err
			}
			stale, unactivated, err := e.stats.Backlog(ctx, time.Now().Add(-e.cfg.Scheduler.StaleAfter))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "since %s\n", from.UTC().Format(time.RFC3339))
			currencies := make([]string, 0, len(totals))
			for c := range totals {
				currencies = append(currencies, c)
			}
			sort.Strings(currencies)
			for _, c := range currencies {
				fmt.Fprintf(out, "  %s %s\n", c, usecase.FormatAmount(totals[c]))
			}
			fmt.Fprintf(out, "backlog: %d stale pending, %d completed without entitlement\n", stale, unactivated)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look-back window")
	return cmd
}
