package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/dictate/internal/app"
	"github.com/MrWong99/dictate/internal/config"
	"github.com/MrWong99/dictate/internal/control"
	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/audio/wavfile"
)

func newTranscribeCmd(g *globalFlags) *cobra.Command {
	var (
		realtime bool
		copyText bool
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file.wav>",
		Short: "Transcribe a WAV file through the streaming engine",
		Long: `Run one dictation session with a WAV file as the microphone and print the
merged text. The file is cut into overlapping chunks exactly like live audio.
Runs in-process; no daemon is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			off, on := false, copyText
			cfg.Output.Notify = &off
			cfg.Output.Clipboard = &on

			logger, _ := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel, cfg.Server.LogFormat)

			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			providers, err := buildProviders(cfg, reg)
			if err != nil {
				return err
			}

			src, err := wavfile.Open(args[0], wavfile.WithRealtime(realtime))
			if err != nil {
				return err
			}
			defer src.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, providers,
				app.WithLogger(logger),
				app.WithSource(func(context.Context) (audio.Source, error) { return src, nil }),
			)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(ctx))

			res, err := a.Transcribe(ctx)
			if err != nil && res.SessionID == "" {
				return fmt.Errorf("transcribe %q: %w", args[0], err)
			}
			resp := control.ResultResponse{Result: res}
			if res.Err != nil {
				resp.Error = res.Err.Error()
			}
			return printResult(cmd.OutOrStdout(), cmd.ErrOrStderr(), resp)
		},
	}
	cmd.Flags().BoolVar(&realtime, "realtime", false, "pace the file at recording speed")
	cmd.Flags().BoolVar(&copyText, "copy", false, "also copy the text to the clipboard")
	return cmd
}
