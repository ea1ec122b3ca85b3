package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/internal/presentation/tui"
	httpadapter "github.com/aretw0/bpmn/pkg/adapters/http"
	"github.com/aretw0/bpmn/pkg/adapters/process"
	redisadapter "github.com/aretw0/bpmn/pkg/adapters/redis"
	"github.com/aretw0/bpmn/pkg/definition"
	"github.com/aretw0/bpmn/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the engine with the configured store, deploys the definitions
found under the configured path and exposes the JSON API over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr = addr
		}
		if dir, _ := cmd.Flags().GetString("definitions"); cmd.Flags().Changed("definitions") {
			cfg.Definitions = dir
		}
		if tasks, _ := cmd.Flags().GetString("tasks"); cmd.Flags().Changed("tasks") {
			cfg.ServiceTasks = tasks
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.ErrOrStderr(), bpmn.Version)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides http.addr)")
	serveCmd.Flags().StringP("definitions", "d", "", "File or directory of definitions to deploy")
	serveCmd.Flags().String("tasks", "", "tasks.yaml binding external commands to service tasks")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}

func serve(ctx context.Context) (err error) {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	mode, err := bpmn.ParseSignalMode(cfg.Engine.SignalMode)
	if err != nil {
		return err
	}
	opts := []bpmn.Option{
		bpmn.WithStore(store),
		bpmn.WithLogger(logger),
		bpmn.WithSignalMode(mode),
		bpmn.WithMaxSteps(cfg.Engine.MaxSteps),
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { err = multierr.Append(err, client.Close()) }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, bpmn.WithDistributedLocker(redisadapter.NewLocker(client, cfg.Redis.Prefix), cfg.Redis.LockTTL))
		logger.Info("Distributed locking enabled", "addr", cfg.Redis.Addr)
	}

	var handlerOpts []httpadapter.Option
	handlerOpts = append(handlerOpts, httpadapter.WithLogger(logger))
	if cfg.HTTP.Metrics {
		metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		opts = append(opts, bpmn.WithNotifier(metrics))
		handlerOpts = append(handlerOpts, httpadapter.WithMetrics(promhttp.Handler()))
	}
	if cfg.HTTP.Events {
		streams := httpadapter.NewStreamManager(logger)
		opts = append(opts, bpmn.WithNotifier(streams))
		handlerOpts = append(handlerOpts, httpadapter.WithStreams(streams))
	}

	engine := bpmn.New(opts...)
	if err := deployAll(ctx, engine, cfg.Definitions); err != nil {
		return err
	}
	if cfg.ServiceTasks != "" {
		tasks, err := process.LoadTasks(cfg.ServiceTasks)
		if err != nil {
			return err
		}
		process.NewRunner(
			process.WithRegistry(tasks),
			process.WithBaseDir(filepath.Dir(cfg.ServiceTasks)),
			process.WithLogger(logger),
		).Bind(engine)
		logger.Info("Service task processes bound", "count", len(tasks))
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpadapter.NewHandler(engine, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			return srv.Close()
		}
		logger.Info("Server stopped gracefully")
		return nil
	})
	return g.Wait()
}

// deployAll deploys every definition under path. An empty path deploys nothing.
func deployAll(ctx context.Context, engine *bpmn.Engine, path string) error {
	if path == "" {
		logger.Warn("No definitions configured; deploy them through the API")
		return nil
	}
	defs, err := definition.Load(path)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := engine.Deploy(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
