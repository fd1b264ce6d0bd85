package main

import (
	"context"
	"fmt"
	"time"

	"github.com/paymesh/paymesh-indexer/internal/checkpoint"
	"github.com/paymesh/paymesh-indexer/internal/common"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or move pipeline checkpoints",
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the position of every consumer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		cps, err := checkpoint.NewManager(a.store.DB(), a.log).List(cmd.Context())
		if err != nil {
			return err
		}

		if len(cps) == 0 {
			fmt.Println("(no checkpoints)")
			return nil
		}
		for _, cp := range cps {
			fmt.Printf("%-20s %10d  %s\n", cp.ConsumerKey, cp.Position, time.Unix(cp.UpdatedAt, 0).UTC().Format(time.DateTime))
		}
		return nil
	},
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set <consumer> <resume-block>",
	Short: "Make a consumer resume from a block on its next run",
	Long: `Move a consumer so its next run starts at resume-block. A resume block of 0 removes
the checkpoint and the pipeline starts over from its configured start block.
Replaying already projected blocks is safe.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resumeFrom, err := common.ParseBlockNumber(args[1])
		if err != nil {
			return fmt.Errorf("invalid resume block %q: %w", args[1], err)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		mgr := checkpoint.NewManager(a.store.DB(), newLogger(a.cfg, common.ComponentCheckpoint))
		return mgr.Reset(context.WithoutCancel(cmd.Context()), args[0], resumeFrom)
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointListCmd, checkpointSetCmd)
}
