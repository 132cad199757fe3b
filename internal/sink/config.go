package sink

import (
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the coverage collector port.
	DefaultPort = 7777

	// DefaultDialTimeout bounds the single connection attempt.
	DefaultDialTimeout = 5 * time.Second

	// AbortExitCode is the exit status used by abort mode.
	AbortExitCode = 134
)

// Config selects the sink backend.
//
// Backends are tried in priority order: Abort, Host, Stderr, File. When
// none is set the sink records nothing.
type Config struct {
	// File is the coverage log path, opened in append mode.
	File string `yaml:"file" env:"LLCOV_FILE"`
	// Dedup writes each distinct block to File at most once per process.
	Dedup bool `yaml:"dedup" env:"LLCOV_DEDUP"`
	// Abort terminates the process on the first executed block.
	Abort bool `yaml:"abort" env:"LLCOV_ABORT"`
	// Stderr writes one line per executed block to standard error.
	Stderr bool `yaml:"stderr" env:"LLCOV_STDERR"`
	// Host streams events to a collector. A host without a port uses Port.
	Host string `yaml:"host" env:"LLCOV_HOST"`
	// Port is the collector port. Zero means DefaultPort.
	Port int `yaml:"port" env:"LLCOV_PORT"`
	// DialTimeout bounds the connection attempt. Zero means
	// DefaultDialTimeout.
	DialTimeout time.Duration `yaml:"dial_timeout" env:"LLCOV_DIAL_TIMEOUT"`
}

// Enabled reports whether any backend is configured.
func (c Config) Enabled() bool {
	return c.Abort || c.Host != "" || c.Stderr || c.File != ""
}

// Address returns the collector address derived from Host and Port.
func (c Config) Address() string {
	if c.Host == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return c.Host
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return c.DialTimeout
}

// choose maps the configuration to a backend by priority.
func (c Config) choose() Backend {
	switch {
	case c.Abort:
		return BackendAbort
	case c.Host != "":
		return BackendNetwork
	case c.Stderr:
		return BackendStderr
	case c.File != "":
		return BackendFile
	default:
		return BackendNone
	}
}
