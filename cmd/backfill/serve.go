package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adsight/backfill/internal/chain"
	"github.com/adsight/backfill/internal/server"
	"github.com/adsight/backfill/internal/tasks"
)

var (
	serveAddress string
	servePort    int
	serveNoChain bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the chain worker",
		Long: `Start the HTTP API for triggering backfills, month chains, and gap scans,
together with the background worker that drains due month units from the
durable queue. Both shut down gracefully on SIGINT/SIGTERM; an in-flight
month unit finishes before exit.`,
		Example: `  backfill serve
  backfill serve --port 9000
  backfill serve --no-chain-worker`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveAddress, "address", "", "address to bind (overrides config)")
	cmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	cmd.Flags().BoolVar(&serveNoChain, "no-chain-worker", false, "do not start the month queue worker")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if err := initEngine(); err != nil {
		return err
	}

	httpCfg := globalCfg.HTTP
	if serveAddress != "" {
		httpCfg.Address = serveAddress
	}
	if servePort != 0 {
		httpCfg.Port = servePort
	}

	registry := tasks.NewRegistry(logger)
	srv := server.New(httpCfg, globalStore, globalOrch, globalSched, globalScanner, registry, logger, nil)

	var worker *chain.Worker
	if globalCfg.Chain.Enabled && !serveNoChain {
		worker = chain.NewWorker(globalSched, globalStore, logger, globalCfg.Chain.PollInterval)
		worker.Start(context.Background())
	} else {
		logger.Info("chain worker disabled")
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if worker != nil {
			worker.Stop()
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if worker != nil {
		worker.Stop()
	}

	// Let accepted backfill tasks run to completion before closing the store
	logger.Info("waiting for in-flight tasks")
	registry.Wait()

	logger.Info("shutdown complete")
	return nil
}
