package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dictate/internal/app"
	"github.com/MrWong99/dictate/internal/config"
	"github.com/MrWong99/dictate/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newDaemonCmd(g *globalFlags) *cobra.Command {
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the dictation daemon",
		Long: `Run the dictation daemon in the foreground. It serves the control socket
used by toggle, start, stop and status, and reloads the config file when it
changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), g, !noWatch, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func runDaemon(parent context.Context, g *globalFlags, watch bool, stderr io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(stderr, cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)
	slog.Info("dictate starting",
		"version", version,
		"config", g.configPath,
		"socket", cfg.Control.Socket,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.Init(ctx, observe.ProviderConfig{
		ServiceName:    "dictate",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers,
		app.WithLogger(logger),
		app.WithLevel(level),
		app.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if watch {
		if _, statErr := os.Stat(g.configPath); statErr == nil {
			w, err := config.NewWatcher(g.configPath,
				config.WithWatcherLogger(logger),
				config.WithOverride(func(c *config.Config) {
					if g.logLevel != "" {
						c.Server.LogLevel = config.LogLevel(g.logLevel)
					}
				}),
			)
			if err != nil {
				slog.Warn("config watcher disabled", "err", err)
			} else {
				go w.Run(ctx, func(r config.Reload) error {
					d, err := application.ApplyConfig(r.New)
					if err != nil {
						return err
					}
					slog.Info("config applied",
						"engine", d.EngineChanged,
						"vocabulary", d.VocabularyChanged,
						"output", d.OutputChanged,
						"log_level", d.LogLevelChanged,
					)
					return nil
				})
			}
		}
	}

	slog.Info("daemon ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	slog.Info("goodbye")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
