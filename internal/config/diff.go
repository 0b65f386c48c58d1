package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
//
// Engine settings, vocabulary, output toggles and the log level are applied
// by the daemon without a restart; they take effect from the next session.
// Everything else (sockets, capture device, providers, history) is reported
// in RestartRequired and needs a daemon restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is set when chunker, dispatcher or merge settings or
	// the provider's language/prompt changed.
	EngineChanged bool

	VocabularyChanged bool
	OutputChanged     bool

	// RestartRequired lists the top-level sections whose changes are
	// ignored until restart.
	RestartRequired []string
}

// Empty reports whether the diff contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.EngineChanged && !d.VocabularyChanged &&
		!d.OutputChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Chunker != new.Chunker ||
		old.Dispatcher != new.Dispatcher ||
		old.Merge != new.Merge ||
		old.Capture.MaxDuration != new.Capture.MaxDuration ||
		old.Providers.STT.Language != new.Providers.STT.Language ||
		old.Providers.STT.Prompt != new.Providers.STT.Prompt {
		d.EngineChanged = true
	}

	d.VocabularyChanged = !slices.Equal(old.Vocabulary, new.Vocabulary)
	d.OutputChanged = old.Output.ClipboardEnabled() != new.Output.ClipboardEnabled() ||
		old.Output.NotifyEnabled() != new.Output.NotifyEnabled() ||
		old.Output.NotifyPreview != new.Output.NotifyPreview

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Control != new.Control {
		d.RestartRequired = append(d.RestartRequired, "control")
	}
	oc, nc := old.Capture, new.Capture
	oc.MaxDuration, nc.MaxDuration = 0, 0
	if oc != nc {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if providersChanged(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}

	return d
}

// providersChanged compares everything except the per-session fields that
// [Diff] already reports as engine changes.
func providersChanged(old, new ProvidersConfig) bool {
	old.STT.Language, new.STT.Language = "", ""
	old.STT.Prompt, new.STT.Prompt = "", ""
	return !reflect.DeepEqual(old, new)
}
