package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle recorded group payments whose payout did not complete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		reconciler, err := a.reconciler()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		report, err := reconciler.RunOnce(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("attempted: %d, settled: %d, skipped: %d, still unsettled: %d\n",
			report.Attempted, report.Settled, report.Skipped, report.Failed)
		return nil
	},
}
