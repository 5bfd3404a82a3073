package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anyllm"},
	"stt": {"whispercli", "whisper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown YAML keys are rejected, so typos fail loudly instead of silently
// falling back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found. Suspicious but legal
// values produce warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, entry := range cfg.Providers.LLMFallbacks {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", entry.Name)
	}
	for i, entry := range cfg.Providers.STTFallbacks {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", entry.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; extraction and synthesis need a language model"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required; the pipeline starts from audio"))
	}

	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; exam records will be kept in memory only")
	}

	tr := cfg.Transcription
	if tr.LowBeam < 0 || tr.HighBeam < 0 {
		errs = append(errs, fmt.Errorf("transcription beam sizes must not be negative (low %d, high %d)", tr.LowBeam, tr.HighBeam))
	}
	if tr.LowBeam > 0 && tr.HighBeam > 0 && tr.HighBeam < tr.LowBeam {
		errs = append(errs, fmt.Errorf("transcription.high_beam %d must be at least low_beam %d", tr.HighBeam, tr.LowBeam))
	}
	if tr.RetryThreshold < 0 || tr.RetryThreshold > 100 {
		errs = append(errs, fmt.Errorf("transcription.retry_threshold %d is out of range [0, 100]", tr.RetryThreshold))
	}
	if tr.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.run_timeout %v must not be negative", tr.RunTimeout))
	}
	if tr.AntiLoop.Threshold < 0 || tr.AntiLoop.Keep < 0 {
		errs = append(errs, fmt.Errorf("transcription.anti_loop values must not be negative (threshold %d, keep %d)", tr.AntiLoop.Threshold, tr.AntiLoop.Keep))
	}
	if tr.AntiLoop.Threshold > 0 && tr.AntiLoop.Keep > tr.AntiLoop.Threshold {
		slog.Warn("anti_loop.keep exceeds threshold; collapsing will never drop anything",
			"keep", tr.AntiLoop.Keep, "threshold", tr.AntiLoop.Threshold)
	}

	if cfg.Extraction.MaxInputChars < 0 {
		errs = append(errs, fmt.Errorf("extraction.max_input_chars %d must not be negative", cfg.Extraction.MaxInputChars))
	}
	if cfg.Extraction.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("extraction.max_output_tokens %d must not be negative", cfg.Extraction.MaxOutputTokens))
	}
	if cfg.Synthesis.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_output_tokens %d must not be negative", cfg.Synthesis.MaxOutputTokens))
	}

	for i, rw := range cfg.Synthesis.Rewrites {
		prefix := fmt.Sprintf("synthesis.rewrites[%d]", i)
		if rw.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if rw.Pattern == "" {
			errs = append(errs, fmt.Errorf("%s.pattern is required", prefix))
		} else if _, err := regexp.Compile(rw.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s.pattern does not compile: %w", prefix, err))
		}
		if rw.Replacement == "" {
			errs = append(errs, fmt.Errorf("%s.replacement is required; sanitizer rules neutralise phrasing, they never delete it", prefix))
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
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
