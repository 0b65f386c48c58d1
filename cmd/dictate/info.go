package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dictate/internal/clipboard"
	"github.com/MrWong99/dictate/internal/config"
	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/audio/portaudio"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Long:  `List audio input devices. Use the name or index as capture.device.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := portaudio.Devices()
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
}

func printDevices(w io.Writer, devices []audio.Device) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Index", "Name", "Channels", "Rate", "Default"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{
			strconv.Itoa(d.Index),
			d.Name,
			strconv.Itoa(d.MaxInputChannels),
			strconv.FormatFloat(d.DefaultSampleRate, 'f', 0, 64),
			def,
		})
	}
	table.Render()
}

func newInfoCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective configuration and system support",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			return printInfo(cmd.OutOrStdout(), g.configPath, cfg, reg.STTNames(), clipboard.Available())
		},
	}
}

// printInfo writes a summary followed by the effective config with API
// keys redacted.
func printInfo(w io.Writer, path string, cfg *config.Config, backends []string, clipboardOK bool) error {
	slices.Sort(backends)
	fmt.Fprintf(w, "config file:    %s\n", path)
	fmt.Fprintf(w, "control socket: %s\n", cfg.Control.Socket)
	fmt.Fprintf(w, "stt backends:   %s\n", strings.Join(backends, ", "))
	chain := []string{cfg.Providers.STT.Name}
	for _, fb := range cfg.Providers.STTFallbacks {
		chain = append(chain, fb.Name)
	}
	fmt.Fprintf(w, "stt in use:     %s\n", strings.Join(chain, " > "))
	if clipboardOK {
		fmt.Fprintln(w, "clipboard:      available")
	} else {
		fmt.Fprintln(w, "clipboard:      unavailable (install xclip, xsel or wl-clipboard)")
	}
	history := "disabled"
	if cfg.History.DSN != "" {
		history = "enabled"
	}
	fmt.Fprintf(w, "history:        %s\n\n", history)

	redacted := *cfg
	redacted.Providers.STT.APIKey = redact(cfg.Providers.STT.APIKey)
	redacted.Providers.STTFallbacks = slices.Clone(cfg.Providers.STTFallbacks)
	for i := range redacted.Providers.STTFallbacks {
		redacted.Providers.STTFallbacks[i].APIKey = redact(redacted.Providers.STTFallbacks[i].APIKey)
	}
	if cfg.History.DSN != "" {
		redacted.History.DSN = "********"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&redacted); err != nil {
		return err
	}
	return enc.Close()
}

func redact(key string) string {
	if key == "" {
		return ""
	}
	return "********"
}
