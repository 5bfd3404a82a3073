// Package config provides the configuration schema and loader for the
// vetsono report pipeline.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps [time.Duration] so YAML configs can use strings like "90s"
// or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"90s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from
// a YAML file using [Load] or [LoadFromReader].
//
// Zero values in the stage sections mean "use the stage's built-in default";
// the pipeline only overrides a knob when a positive value is configured.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Store         StoreConfig         `yaml:"store"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
}

// ServerConfig holds logging and ops endpoint settings.
type ServerConfig struct {
	// OpsAddr is the TCP address the ops endpoint (/metrics, /healthz,
	// /readyz) listens on (e.g. ":9090"). Empty disables the endpoint.
	OpsAddr string `yaml:"ops_addr"`

	// LogLevel controls verbosity. Empty means "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// external dependency.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`

	// LLMFallbacks lists additional LLM backends tried in order when the
	// primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// STTFallbacks lists additional transcription backends tried in order
	// when the primary fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g. "openai", "anyllm",
	// "whispercli").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields (e.g. the whisper binary and model paths).
	Options map[string]any `yaml:"options"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the exam store.
	// Empty selects the in-memory store; results then live only for the
	// process lifetime.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// TranscriptionConfig tunes the transcription orchestrator.
type TranscriptionConfig struct {
	// Language is the expected recording language code. Empty means "pl".
	Language string `yaml:"language"`

	// LowBeam is the beam size of the fast first run.
	LowBeam int `yaml:"low_beam"`

	// HighBeam is the beam size of the single wide retry.
	HighBeam int `yaml:"high_beam"`

	// RetryThreshold is the quality score below which the wide retry runs.
	RetryThreshold int `yaml:"retry_threshold"`

	// RunTimeout bounds a single transcription run.
	RunTimeout Duration `yaml:"run_timeout"`

	// AntiLoop tunes repeated-line collapsing in the normalizer.
	AntiLoop AntiLoopConfig `yaml:"anti_loop"`
}

// AntiLoopConfig tunes the repetition collapser.
type AntiLoopConfig struct {
	// Threshold is the occurrence count above which repeats are collapsed.
	Threshold int `yaml:"threshold"`

	// Keep is how many occurrences survive a collapse.
	Keep int `yaml:"keep"`
}

// ExtractionConfig tunes the two extraction calls.
type ExtractionConfig struct {
	// MaxInputChars caps the transcript window sent to the model.
	MaxInputChars int `yaml:"max_input_chars"`

	// MaxOutputTokens is the completion budget per call.
	MaxOutputTokens int `yaml:"max_output_tokens"`
}

// SynthesisConfig tunes the analysis synthesizer.
type SynthesisConfig struct {
	// MaxOutputTokens is the completion budget for the summary call.
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// Rewrites replaces the built-in sanitizer rules when non-empty.
	Rewrites []RewriteRule `yaml:"rewrites"`
}

// RewriteRule is one sanitizer rewrite loaded from config.
type RewriteRule struct {
	// Name labels the rule in stage metadata.
	Name string `yaml:"name"`

	// Pattern is the regular expression matched against the summary.
	Pattern string `yaml:"pattern"`

	// Replacement is the neutral phrasing substituted for a match.
	Replacement string `yaml:"replacement"`
}
