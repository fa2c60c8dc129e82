package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runMonitor handles `dealbrain monitor`: the ops HTTP server with /health
// and /metrics, running until interrupted.
func runMonitor(cmd *cobra.Command, args []string) error {
	services, err := boot()
	if err != nil {
		return err
	}
	defer services.Close()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		services.Cfg.Monitor.ListenAddr = addr
	}

	srv := services.Monitor(version)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("health", fmt.Sprintf("http://%s/health", services.Cfg.Monitor.ListenAddr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", services.Cfg.Monitor.ListenAddr)).
			Msg("monitor endpoints available")
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
