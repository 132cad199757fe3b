// Package config loads llcov settings from defaults, an optional YAML file
// and LLCOV_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/llcov/internal/sink"
)

// Config holds compile-time filter settings and the runtime sink settings.
type Config struct {
	// Blacklist is the blacklist list-file path.
	Blacklist string `yaml:"blacklist" env:"LLCOV_BLACKLIST"`
	// Whitelist is the whitelist list-file path.
	Whitelist string `yaml:"whitelist" env:"LLCOV_WHITELIST"`
	// LogInstrumentation receives one line per instrumented block.
	LogInstrumentation string `yaml:"log_instrumentation" env:"LLCOV_LOG_INSTRUMENTATION"`
	// LogInstrumentationDebug traces every block evaluation.
	LogInstrumentationDebug bool `yaml:"log_instrumentation_debug" env:"LLCOV_LOG_INSTRUMENTATION_DEBUG"`
	// LogLevel is the diagnostics level.
	LogLevel string `yaml:"log_level" env:"LLCOV_LOG_LEVEL"`

	Sink sink.Config `yaml:"sink"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Sink: sink.Config{
			Port:        sink.DefaultPort,
			DialTimeout: sink.DefaultDialTimeout,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := LoadFromEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv returns the defaults overlaid with the environment.
func FromEnv() (Config, error) {
	return Load("")
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Environ returns the LLCOV_* assignments that reproduce the sink
// settings in a child process. Unset values are omitted.
func (c Config) Environ() []string {
	var env []string
	add := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	flag := func(key string, on bool) {
		if on {
			add(key, "1")
		}
	}

	add("LLCOV_FILE", c.Sink.File)
	flag("LLCOV_DEDUP", c.Sink.Dedup)
	flag("LLCOV_ABORT", c.Sink.Abort)
	flag("LLCOV_STDERR", c.Sink.Stderr)
	add("LLCOV_HOST", c.Sink.Host)
	if c.Sink.Port != 0 && c.Sink.Port != sink.DefaultPort {
		add("LLCOV_PORT", fmt.Sprint(c.Sink.Port))
	}
	if c.Sink.DialTimeout != 0 && c.Sink.DialTimeout != sink.DefaultDialTimeout {
		add("LLCOV_DIAL_TIMEOUT", c.Sink.DialTimeout.String())
	}
	return env
}
