package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rlvgl/backtide/pkg/outbox"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Show outbox delivery state",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")

		ob, err := outbox.New(filepath.Join(dataDir, "outbox.db"), outbox.Config{})
		if err != nil {
			return err
		}
		defer ob.Close()

		stats, err := ob.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("pending:      %d\n", stats.ByStatus["pending"])
		fmt.Printf("leased:       %d\n", stats.ByStatus["leased"])
		fmt.Printf("sent:         %d\n", stats.ByStatus["sent"])
		fmt.Printf("dead_letter:  %d\n", stats.DeadLetters)
		if stats.OldestPendingAge > 0 {
			fmt.Printf("oldest pending: %s\n", stats.OldestPendingAge.Round(time.Second))
		}
		return nil
	},
}

func init() {
	outboxCmd.Flags().String("data-dir", "/var/lib/backtide", "Base directory for durable state")
}
