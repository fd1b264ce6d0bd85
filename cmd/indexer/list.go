package main

import (
	"fmt"

	"github.com/paymesh/paymesh-indexer/internal/selector"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contract kinds and the events they are decoded into",
	Long:  `List every contract kind usable in a pipeline with the event types and topic0 selectors it resolves.`,
	Run: func(cmd *cobra.Command, args []string) {
		for _, kind := range []selector.ContractKind{selector.KindGroup, selector.KindERC20} {
			fmt.Printf("%s:\n", kind)
			for _, t := range selector.EventsOf(kind) {
				topic, _ := selector.Selector(t)
				fmt.Printf("  - %-22s %s\n", t, topic.Hex())
			}
		}
	},
}
