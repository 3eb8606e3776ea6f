package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/types"
	"github.com/rlvgl/backtide/pkg/worker"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one isolated run worker (spawned by the controller)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run-id")
		if runID == "" {
			return fmt.Errorf("--run-id is required")
		}

		// stdout belongs to the IPC stream; logs go to stderr as JSON
		// so the controller can pass them through.
		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stderr})

		cfgBytes, err := io.ReadAll(os.Stdin)
		if err != nil {
			os.Exit(types.ExitInternalError)
		}

		// SIGTERM from the controller is the cooperative cancel token.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
		defer stop()

		w := worker.New(runID, os.Stdout)
		os.Exit(w.Run(ctx, cfgBytes))
		return nil
	},
}

func init() {
	workerCmd.Flags().String("run-id", "", "Run identifier assigned by the controller")
}
