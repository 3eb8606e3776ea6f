package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rlvgl/backtide/pkg/log"
	"github.com/rlvgl/backtide/pkg/manager"
	"github.com/rlvgl/backtide/pkg/metrics"
	"github.com/rlvgl/backtide/pkg/notify"
	"github.com/rlvgl/backtide/pkg/outbox"
	"github.com/rlvgl/backtide/pkg/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller: run manager, dispatcher, metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		maxRuns, _ := cmd.Flags().GetInt("max-concurrent-runs")
		queueCap, _ := cmd.Flags().GetInt("queue-cap")
		retention, _ := cmd.Flags().GetDuration("retention")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dispatchWorkers, _ := cmd.Flags().GetInt("dispatch-workers")

		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		defer store.Close()

		ob, err := outbox.New(filepath.Join(dataDir, "outbox.db"), outbox.Config{})
		if err != nil {
			return fmt.Errorf("failed to create outbox: %w", err)
		}
		defer ob.Close()

		fallback, err := notify.NewAdapter(notify.ChannelConfig{Type: "log"})
		if err != nil {
			return err
		}
		dispatcher := outbox.NewDispatcher(ob, nil, fallback, outbox.DispatcherConfig{
			Workers: dispatchWorkers,
		})

		janitor, err := outbox.NewJanitor(ob, "@every 30s")
		if err != nil {
			return fmt.Errorf("failed to create janitor: %w", err)
		}

		mgr, err := manager.NewManager(manager.Config{
			DataDir:           dataDir,
			MaxConcurrentRuns: maxRuns,
			QueueCap:          queueCap,
			RetentionTTL:      retention,
		}, store, ob, dispatcher)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}

		mgr.Start()
		dispatcher.Start()
		janitor.Start()

		// Metrics endpoint.
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Metrics server failed", err)
			}
		}()

		logger := log.WithComponent("serve")
		logger.Info().
			Str("data_dir", dataDir).
			Int("max_concurrent_runs", maxRuns).
			Str("metrics_addr", metricsAddr).
			Msg("Controller started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("Shutting down")
		srv.Close()
		janitor.Stop()
		dispatcher.Stop()
		mgr.Stop()
		return nil
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/backtide", "Base directory for durable state")
	serveCmd.Flags().Int("max-concurrent-runs", 4, "Maximum runs executing in parallel")
	serveCmd.Flags().Int("queue-cap", 32, "Bounded wait queue for admitted runs")
	serveCmd.Flags().Duration("retention", 7*24*time.Hour, "Keep terminal runs this long")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics listen address")
	serveCmd.Flags().Int("dispatch-workers", 2, "Outbox dispatcher worker count")
}
