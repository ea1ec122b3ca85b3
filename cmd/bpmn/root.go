package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/bpmn/internal/config"
	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/pkg/adapters/bolt"
	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/adapters/sqlite"
	"github.com/aretw0/bpmn/pkg/persistence/middleware"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/spf13/cobra"
)

// Loaded by the root command before any subcommand runs.
var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bpmn",
	Short: "bpmn is an embeddable BPMN process engine",
	Long: `bpmn executes process definitions written in YAML: gateways, user and
service tasks, message and signal events, sub-processes and error boundaries.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
		}
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logger = logging.NewWithFormat(os.Stderr, cfg.Log.Format, level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text or json)")
}

// openStore opens the configured store wrapped in its middlewares. The
// returned func releases it.
func openStore(ctx context.Context, c config.StoreConfig) (ports.Store, func() error, error) {
	mws, err := storeMiddlewares(c)
	if err != nil {
		return nil, nil, err
	}

	switch c.Driver {
	case config.StoreBolt:
		s, err := bolt.Open(ctx, c.Path)
		if err != nil {
			return nil, nil, err
		}
		return middleware.Chain(s, mws...), s.Close, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, c.Path)
		if err != nil {
			return nil, nil, err
		}
		return middleware.Chain(s, mws...), s.Close, nil
	}
	return middleware.Chain(memory.NewStore(), mws...), func() error { return nil }, nil
}

// storeMiddlewares redacts outside encryption so masking sees clear values.
func storeMiddlewares(c config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(c.Redact) > 0 {
		mw, err := middleware.NewPIIMiddleware(c.Redact)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	active, fallback, err := c.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

// durableStore is openStore for commands that read state left by a server.
func durableStore(ctx context.Context) (ports.Store, func() error, error) {
	if cfg.Store.Driver == config.StoreMemory {
		return nil, nil, fmt.Errorf("store driver %q keeps no state between runs; configure bolt or sqlite", cfg.Store.Driver)
	}
	return openStore(ctx, cfg.Store)
}
