package quic

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// LogConfig mirrors the shape of distribution-distribution's
// configuration.Log block: a level name and a rotated file path rather
// than a raw io.Writer, so it can be loaded straight from YAML.
type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config seeds a Server or Client. TLS fields are carried only as the
// handshake collaborator's configuration surface (spec.md §1 scopes the
// TLS state machine itself out of this repository).
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	IdleTimeout time.Duration `yaml:"idle_timeout"`
	MaxAckDelay time.Duration `yaml:"max_ack_delay"`
	MTU         uint64        `yaml:"mtu"`

	StreamRecvWindow   uint64 `yaml:"stream_recv_window"`
	ConnRecvWindow     uint64 `yaml:"conn_recv_window"`
	ConnInitialMaxData uint64 `yaml:"conn_initial_max_data"`

	MaxStreamsBidi uint64 `yaml:"max_streams_bidi"`
	MaxStreamsUni  uint64 `yaml:"max_streams_uni"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig is the handshake collaborator's configuration surface; its
// fields are read by whatever Handshake implementation the caller
// supplies, never by this package.
type TLSConfig struct {
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
}

// DefaultConfig mirrors the constants spec.md's invariants assume absent
// a negotiated transport parameter (e.g. the 30s idle timeout
// transport.defaultIdleTimeout also falls back to).
func DefaultConfig() Config {
	return Config{
		Log:                LogConfig{Level: "info"},
		IdleTimeout:        30 * time.Second,
		MaxAckDelay:        25 * time.Millisecond,
		MTU:                1200,
		StreamRecvWindow:   256 * 1024,
		ConnRecvWindow:     1024 * 1024,
		ConnInitialMaxData: 1024 * 1024,
		MaxStreamsBidi:     100,
		MaxStreamsUni:      100,
	}
}

// LoadConfig reads and parses a YAML config file on top of the
// defaults, the way distribution-distribution/configuration.Parse reads
// its registry configuration with gopkg.in/yaml.v2.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("quic: read config: %w", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("quic: parse config: %w", err)
	}
	return cfg, nil
}
