package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveItems int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a paged fixture API",
	Long: `Serve synthetic items over HTTP.

  GET /items?since=<id>&per_page=<n>[&shard=<i>&shards=<n>]
  GET /metrics

Examples:
  pagedemo serve --items 1000
  pagedemo serve --addr 127.0.0.1:9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&serveItems, "items", -1, "number of items served (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveItems >= 0 {
		cfg.Server.Items = serveItems
	}
	logger := stderrLogger(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newFixtureRouter(cfg.Server.Items, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Int("items", cfg.Server.Items).Msg("fixture server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
