package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/usecase"
)

func quoteCmd() *cobra.Command {
	var current, method string
	cmd := &cobra.Command{
		Use:   "quote [package]",
		Short: "Show what a user would be charged",
		Long: `Price a package for a user who currently holds --current (empty for none).
Without a package argument every package is listed.

Examples:
  billingctl quote
  billingctl quote golden_premium --current vip_premium --method epoint`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			table, err := cfg.PriceTable()
			if err != nil {
				return err
			}
			m, err := model.ParsePaymentMethod(method)
			if err != nil {
				return fmt.Errorf("--method %q: %w", method, err)
			}
			var cur *model.PackageID
			if current != "" {
				id := model.NormalizePackageID(current)
				cur = &id
			}

			targets := table.Sorted()
			if len(args) == 1 {
				pkg, ok := table.Lookup(model.NormalizePackageID(args[0]))
				if !ok {
					return fmt.Errorf("unknown package %q", args[0])
				}
				targets = []model.Package{pkg}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tAMOUNT\tCURRENCY")
			for _, pkg := range targets {
				amount, err := usecase.ResolveAmount(cur, pkg.ID, table, m.Currency())
				switch {
				case err != nil:
					fmt.Fprintf(w, "%s\t-\t%s (%v)\n", pkg.ID, m.Currency(), err)
				case amount.IsZero():
					fmt.Fprintf(w, "%s\t0.00\t%s (no payment required)\n", pkg.ID, m.Currency())
				default:
					fmt.Fprintf(w, "%s\t%s\t%s\n", pkg.ID, usecase.FormatAmount(amount), m.Currency())
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&current, "current", "", "package the user already holds")
	cmd.Flags().StringVarP(&method, "method", "m", "paypal", "payment method (paypal|epoint)")
	return cmd
}
