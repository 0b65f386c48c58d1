// Command dictate is a push-to-talk dictation tool: a daemon records from
// the microphone, streams overlapping chunks to a speech-to-text backend and
// puts the merged transcript on the clipboard.
//
// Bind "dictate toggle" to a hotkey; the first press starts recording, the
// second stops it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/MrWong99/dictate/internal/app"
	"github.com/MrWong99/dictate/internal/config"
	"github.com/MrWong99/dictate/internal/control"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	socket     string
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if errors.Is(err, control.ErrDaemonNotRunning) {
			fmt.Fprintln(os.Stderr, "dictate: daemon is not running; start it with `dictate daemon`")
		} else {
			fmt.Fprintf(os.Stderr, "dictate: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "dictate",
		Short:         "Streaming voice dictation to the clipboard",
		Long:          `dictate records speech, transcribes it in overlapping chunks while you talk and copies the merged text to the clipboard.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath(), "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.socket, "socket", "", "override control.socket")

	root.AddCommand(
		newDaemonCmd(g),
		newToggleCmd(g),
		newStartCmd(g),
		newStopCmd(g),
		newAbortCmd(g),
		newStatusCmd(g),
		newWatchCmd(g),
		newTranscribeCmd(g),
		newDevicesCmd(),
		newInfoCmd(g),
		newHistoryCmd(g),
	)
	return root
}

// defaultConfigPath returns $XDG_CONFIG_HOME/dictate/config.yaml.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "dictate", "config.yaml")
}

// loadConfig reads the config file and applies flag overrides. A missing
// file at the default location yields the default config.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && g.configPath == defaultConfigPath():
		cfg = config.Default()
		if verr := config.Validate(cfg); verr != nil {
			return nil, verr
		}
	default:
		return nil, err
	}
	if g.logLevel != "" {
		lvl := config.LogLevel(g.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("invalid --log-level %q", g.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	if g.socket != "" {
		cfg.Control.Socket = g.socket
	}
	return cfg, nil
}

// socketPath resolves the control socket without requiring a valid config.
func (g *globalFlags) socketPath() string {
	if g.socket != "" {
		return g.socket
	}
	if cfg, err := g.loadConfig(); err == nil {
		return cfg.Control.Socket
	}
	return config.DefaultSocketPath()
}

func (g *globalFlags) client() *control.Client {
	return control.NewClient(g.socketPath())
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned level variable lets
// config reloads change the level of a running daemon.
func newLogger(w io.Writer, level config.LogLevel, format config.LogFormat) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(app.SlogLevel(level))

	var h slog.Handler
	switch format {
	case config.LogFormatJSON:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lv})
	case config.LogFormatPretty:
		cl := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.DebugLevel,
		})
		h = levelHandler{level: lv, next: cl}
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})
	}
	return slog.New(h), lv
}

// levelHandler filters records below level before they reach next.
type levelHandler struct {
	level slog.Leveler
	next  slog.Handler
}

func (h levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.next.Enabled(ctx, l)
}

func (h levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelHandler{level: h.level, next: h.next.WithAttrs(attrs)}
}

func (h levelHandler) WithGroup(name string) slog.Handler {
	return levelHandler{level: h.level, next: h.next.WithGroup(name)}
}
