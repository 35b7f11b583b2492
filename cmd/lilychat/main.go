package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/rickgao/lilychat/internal/api"
	"github.com/rickgao/lilychat/internal/config"
	"github.com/rickgao/lilychat/internal/connection"
	"github.com/rickgao/lilychat/internal/metrics"
	"github.com/rickgao/lilychat/internal/version"
)

// passwordEnv is read when --password is not given. It is not the flag's
// default so usage output never prints it.
const passwordEnv = "LILYCHAT_PASSWORD"

var (
	flagConfig   string
	flagLogLevel string
	flagUsername string
	flagPassword string
)

var rootCmd = &cobra.Command{
	Use:           "lilychat",
	Short:         "Terminal client for one-to-one chat",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "configs/lilychat.yaml", "path to config file (defaults apply if missing)")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level override: debug, info, warn, error")
	flags.StringVarP(&flagUsername, "username", "u", "", "username (overrides config)")
	flags.StringVarP(&flagPassword, "password", "p", "", "password (falls back to $"+passwordEnv+")")

	rootCmd.AddCommand(chatCmd, usersCmd, historyCmd, registerCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles what every subcommand needs.
type app struct {
	cfg    *config.Config
	level  *slog.LevelVar
	logger *slog.Logger
	client *api.Client
}

func setup() (*app, error) {
	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagUsername != "" {
		cfg.User.Username = flagUsername
	}
	if flagPassword != "" {
		cfg.User.Password = flagPassword
	} else if pw := os.Getenv(passwordEnv); pw != "" {
		cfg.User.Password = pw
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Logs go to stderr so they do not interleave with the conversation.
	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	client := api.NewClient(
		cfg.Server.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Server.Timeout),
		api.WithRetries(cfg.Server.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	return &app{cfg: cfg, level: level, logger: logger, client: client}, nil
}

// watchLogLevel follows log.level in the config file until ctx is done. It
// does nothing when the level was set on the command line or there is no
// config file.
func (a *app) watchLogLevel(ctx context.Context) error {
	if flagLogLevel != "" {
		return nil
	}
	if _, err := os.Stat(flagConfig); err != nil {
		return nil
	}
	return config.Watch(ctx, flagConfig, a.logger, func(cfg *config.Config) {
		a.level.Set(cfg.Log.SlogLevel())
	})
}

// newManager builds a connection manager that shares the REST session cookie.
func (a *app) newManager(reg *prometheus.Registry) *connection.Manager {
	cc := a.cfg.Connection

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	dialer := connection.NewWSDialer(connection.WSDialerConfig{
		URL:              a.cfg.Server.WSURL,
		Jar:              a.client.Jar(),
		Header:           header,
		HandshakeTimeout: cc.HandshakeTimeout,
		WriteTimeout:     cc.WriteTimeout,
		PingInterval:     cc.PingInterval,
	}, a.logger)

	opts := []connection.Option{}
	if reg != nil {
		opts = append(opts, connection.WithRecorder(metrics.NewConnectionMetrics(reg)))
	}

	return connection.NewManager(connection.ManagerConfig{
		URL:                  a.cfg.Server.WSURL,
		HandshakeTimeout:     cc.HandshakeTimeout,
		ReconnectBaseWait:    cc.ReconnectBaseDelay,
		ReconnectMaxWait:     cc.ReconnectMaxDelay,
		MaxReconnectAttempts: cc.MaxReconnectAttempts,
		WriteTimeout:         cc.WriteTimeout,
	}, dialer, a.logger, opts...)
}

// registry returns a fresh registry with process collectors, or nil when
// metrics are disabled.
func (a *app) registry() *prometheus.Registry {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// login authenticates with the configured credentials.
func (a *app) login(ctx context.Context) (int64, error) {
	if a.cfg.User.Username == "" || a.cfg.User.Password == "" {
		return 0, api.ErrMissingCredentials
	}
	resp, err := a.client.Login(ctx, a.cfg.User.Username, a.cfg.User.Password)
	if err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}
	return resp.UserID, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
