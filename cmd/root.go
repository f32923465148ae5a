// Package cmd defines the reposync CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/api"
	"github.com/JakeFAU/reposync/internal/app"
	"github.com/JakeFAU/reposync/internal/config"
	"github.com/JakeFAU/reposync/internal/logging"
	"github.com/JakeFAU/reposync/internal/telemetry"
)

type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is everything a subcommand needs, built once in PersistentPreRunE.
type runtime struct {
	cfg        config.Config
	logger     *zap.Logger
	app        *app.App
	services   *app.Services
	tracer     *sdktrace.TracerProvider
	stopServer context.CancelFunc
	serverDone chan struct{}
	closeOnce  sync.Once
}

// newServices builds the production dependencies. Tests replace it.
var newServices = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.Services, error) {
	return app.NewServices(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "reposync",
		Short: "Keeps the plugin catalog in sync with GitHub.",
		Long: `reposync refreshes every catalog record from the GitHub REST API, or merges a
single user submission into the catalog, using a fixed pool of workers.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newSubmitCmd())
	return cmd
}

func buildRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName, logger)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		rt.tracer = tp
	}

	services, err := newServices(ctx, cfg, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	rt.services = services

	a, err := app.New(cfg, services.Deps, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init run: %w", err)
	}
	rt.app = a

	if cfg.Status.Addr != "" {
		serverCtx, cancel := context.WithCancel(ctx)
		rt.stopServer = cancel
		rt.serverDone = make(chan struct{})
		server := api.NewServer(a, logger)
		go func() {
			defer close(rt.serverDone)
			if err := server.ListenAndServe(serverCtx, cfg.Status.Addr); err != nil {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
	}
	return rt, nil
}

func (rt *runtime) close() {
	rt.closeOnce.Do(rt.shutdown)
}

func (rt *runtime) shutdown() {
	if rt.stopServer != nil {
		rt.stopServer()
		<-rt.serverDone
	}
	if rt.services != nil {
		rt.services.Close()
	}
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(context.Background()); err != nil {
			rt.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// withRuntime runs fn with the runtime built by PersistentPreRunE and closes
// the runtime afterwards, whether or not fn fails.
func withRuntime(fn func(cmd *cobra.Command, rt *runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		rt, err := runtimeFrom(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(cmd, rt)
	}
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "reposync:", err)
		stop()
		os.Exit(1)
	}
}
