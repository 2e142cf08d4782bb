package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xenking/planthub/internal/signal"
	"github.com/xenking/planthub/internal/signal/redisx"
)

func newWatchCommand(opts *options) *cobra.Command {
	var (
		addr    string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print stock changes as orders commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb := redisx.NewClient(addr)
			defer func() { _ = rdb.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s on %s\n", channel, addr)
			return redisx.Subscribe(cmd.Context(), rdb, channel, opts.logger(), func(ev signal.StockChanged) {
				for _, l := range ev.Levels {
					fmt.Fprintf(out, "%s order %s: %s now %d\n",
						ev.OccurredAt.Local().Format(time.TimeOnly), ev.OrderID, l.ProductID, l.Stock)
				}
			})
		},
	}
	cmd.Flags().StringVar(&addr, "redis", envOr("PLANTHUB_SIGNAL_REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().StringVar(&channel, "channel", redisx.DefaultChannel, "stock-changed channel")
	return cmd
}
