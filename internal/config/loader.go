package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dictate/internal/chunker"
	"github.com/MrWong99/dictate/internal/dispatch"
	"github.com/MrWong99/dictate/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "deepgram", "whisper"},
	"vad": {"energy"},
}

// APIKeyEnv maps a provider name to the environment variable its API key is
// read from when the config leaves api_key empty.
var APIKeyEnv = map[string]string{
	"openai":   "OPENAI_API_KEY",
	"deepgram": "DEEPGRAM_API_KEY",
}

const (
	defaultSTTProvider   = "openai"
	defaultNotifyPreview = 50
	defaultFrameDuration = 20 * time.Millisecond
	socketName           = "dictate.sock"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields the default config.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero field of cfg with its default and resolves
// API keys from the environment.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Control.Socket == "" {
		cfg.Control.Socket = DefaultSocketPath()
	}

	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = audio.STTFormat.SampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = audio.STTFormat.Channels
	}
	if cfg.Capture.FrameDuration == 0 {
		cfg.Capture.FrameDuration = defaultFrameDuration
	}

	ch := chunker.DefaultConfig()
	if cfg.Capture.MaxDuration == 0 {
		cfg.Capture.MaxDuration = ch.MaxDuration
	}
	if cfg.Chunker.ChunkDuration == 0 {
		cfg.Chunker.ChunkDuration = ch.ChunkDuration
	}
	if cfg.Chunker.Overlap == 0 {
		cfg.Chunker.Overlap = ch.OverlapDuration
	}
	if cfg.Chunker.SilenceDuration == 0 {
		cfg.Chunker.SilenceDuration = ch.SilenceDuration
	}
	if cfg.Chunker.SilenceThreshold == 0 {
		cfg.Chunker.SilenceThreshold = ch.SilenceThreshold
	}
	if cfg.Chunker.MinChunkDuration == 0 {
		cfg.Chunker.MinChunkDuration = ch.MinChunkDuration
	}

	dd := dispatch.DefaultConfig()
	d := &cfg.Dispatcher
	if d.MaxConcurrent == 0 {
		d.MaxConcurrent = dd.MaxConcurrent
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = dd.MaxAttempts
	}
	if d.InitialBackoff == 0 {
		d.InitialBackoff = dd.InitialBackoff
	}
	if d.MaxBackoff == 0 {
		d.MaxBackoff = dd.MaxBackoff
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = dd.RequestTimeout
	}

	if cfg.Merge.TailWords == 0 {
		cfg.Merge.TailWords = 12
	}
	if cfg.Merge.HeadSlack == 0 {
		cfg.Merge.HeadSlack = 2
	}
	if cfg.Merge.MinOverlapWords == 0 {
		cfg.Merge.MinOverlapWords = 1
	}

	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = defaultSTTProvider
	}
	resolveAPIKey(&cfg.Providers.STT)
	for i := range cfg.Providers.STTFallbacks {
		resolveAPIKey(&cfg.Providers.STTFallbacks[i])
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "energy"
	}

	if cfg.Output.NotifyPreview == 0 {
		cfg.Output.NotifyPreview = defaultNotifyPreview
	}
}

// DefaultSocketPath returns the control socket path used when the config
// does not name one.
func DefaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, socketName)
}

func resolveAPIKey(e *ProviderEntry) {
	if e.APIKey != "" {
		return
	}
	if env, ok := APIKeyEnv[e.Name]; ok {
		e.APIKey = os.Getenv(env)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json, pretty", cfg.Server.LogFormat))
	}

	// Capture
	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [1, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameDuration < 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration %s must be positive", cfg.Capture.FrameDuration))
	}

	// Engine settings are validated by the components that consume them.
	if err := cfg.Settings().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	warnMissingKey("providers.stt", cfg.Providers.STT)

	seen := map[string]int{cfg.Providers.STT.Name: -1}
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[fb.Name]; ok {
			if prev < 0 {
				errs = append(errs, fmt.Errorf("%s.name %q duplicates providers.stt", prefix, fb.Name))
			} else {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.stt_fallbacks[%d]", prefix, fb.Name, prev))
			}
			continue
		}
		seen[fb.Name] = i
		validateProviderName("stt", fb.Name)
		warnMissingKey(prefix, fb)
	}

	// Output
	if cfg.Output.NotifyPreview < 0 {
		errs = append(errs, fmt.Errorf("output.notify_preview %d must not be negative", cfg.Output.NotifyPreview))
	}

	// Vocabulary
	for i, w := range cfg.Vocabulary {
		if w == "" {
			errs = append(errs, fmt.Errorf("vocabulary[%d] is empty", i))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func warnMissingKey(field string, e ProviderEntry) {
	if e.APIKey != "" {
		return
	}
	if env, ok := APIKeyEnv[e.Name]; ok {
		slog.Warn("no API key configured; transcription requests will be rejected",
			"field", field+".api_key",
			"env", env,
		)
	}
}
