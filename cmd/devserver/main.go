package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/lilychat/internal/config"
	"github.com/rickgao/lilychat/internal/devserver"
	"github.com/rickgao/lilychat/internal/version"
)

var (
	flagAddr     string
	flagLogLevel string
	flagSeed     []string
)

var rootCmd = &cobra.Command{
	Use:          "devserver",
	Short:        "In-memory chat server for local development",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagAddr, "addr", ":8080", "listen address")
	flags.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringSliceVar(&flagSeed, "seed", nil, "accounts to create at startup as user:password; repeat or comma-separated")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.LogConfig{Level: flagLogLevel}.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting devserver",
		"version", version.Version,
		"commit", version.Commit,
		"addr", flagAddr,
	)

	srv := devserver.New(logger)
	defer srv.Close()

	for _, seed := range flagSeed {
		name, password, ok := strings.Cut(seed, ":")
		if !ok || name == "" || password == "" {
			return fmt.Errorf("invalid seed %q, want user:password", seed)
		}
		id, err := srv.Register(name, password)
		if err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		logger.Info("seeded account", "username", name, "user_id", id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              flagAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// Close the hub first so websocket handlers release their connections.
	srv.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("devserver stopped")
	return nil
}
