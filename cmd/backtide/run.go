package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rlvgl/backtide/pkg/config"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Execute one backtest locally and print the summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strict, _ := cmd.Flags().GetBool("strict")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		doc, err := config.Parse(data, strict)
		if err != nil {
			return err
		}

		runID := uuid.New().String()
		var lastMetrics *types.MetricsEvent
		eng, err := config.Build(doc, config.BuildOptions{
			RunID: runID,
			EventSink: func(ev types.Event) {
				if m, ok := ev.(*types.MetricsEvent); ok {
					lastMetrics = m
				}
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
		defer stop()

		summary, err := eng.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("run:        %s (%s)\n", doc.Name, runID)
		fmt.Printf("bars:       %d\n", summary.BarsProcessed)
		fmt.Printf("fills:      %d\n", summary.Fills)
		fmt.Printf("rejects:    %d\n", summary.Rejects)
		fmt.Printf("equity:     %.2f\n", summary.FinalEquity)
		fmt.Printf("cash:       %.2f\n", summary.FinalCash)
		if lastMetrics != nil {
			fmt.Printf("realized:   %.2f\n", lastMetrics.RealizedPnL)
			fmt.Printf("unrealized: %.2f\n", lastMetrics.UnrealizedPnL)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("strict", false, "Reject unknown config keys")
}
