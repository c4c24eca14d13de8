package main

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// CipherMethod selects the stream cipher suite used by the tunnel wire
// format (spec.md §3/§4.1).
type CipherMethod string

const (
	MethodAES256CFB   CipherMethod = "aes-256-cfb"
	MethodLegacyTable CipherMethod = "legacy-table"
)

// EgressConfig is the optional outbound-address pool a RemoteProxy dials
// origins from (SPEC_FULL.md §4.10).
type EgressConfig struct {
	Interface string   `yaml:"interface"`
	Addrs     []string `yaml:"addrs"`
}

// Config is the top-level YAML configuration shared by the local and
// remote endpoints (spec.md §3).
type Config struct {
	ServerHost string `yaml:"server_host"`
	ServerPort int    `yaml:"server_port"`

	LocalHost string `yaml:"local_host"`
	LocalPort int    `yaml:"local_port"`
	HTTPPort  int    `yaml:"http_port"` // 0 means disabled

	Password string       `yaml:"password"`
	Method   CipherMethod `yaml:"method"`

	TimeoutSec        int `yaml:"timeout_sec"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`

	RetryTimes        int  `yaml:"retry_times"`
	RetryIntervalSec  int  `yaml:"retry_interval_sec"`
	AutoReconnect     bool `yaml:"auto_reconnect"`
	MaxConnections    int  `yaml:"max_connections"`

	StatsAddr string        `yaml:"stats_addr"`
	Egress    *EgressConfig `yaml:"egress"`
	LogLevel  string        `yaml:"log_level"`
}

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TimeoutSec == 0 {
		c.TimeoutSec = 300
	}
	if c.ConnectTimeoutSec == 0 {
		c.ConnectTimeoutSec = 10
	}
	if c.RetryIntervalSec == 0 {
		c.RetryIntervalSec = 1
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 1024
	}
	if c.Method == "" {
		c.Method = MethodAES256CFB
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate enforces the invariants spec.md §3 and §8 require of a
// constructed Config, mirroring the teacher's config.go: normalized values,
// required fields, range checks, duplicate detection.
func (c *Config) validate() error {
	if c.Password == "" {
		return fmt.Errorf("config: 'password' is required")
	}

	switch c.Method {
	case MethodAES256CFB:
	case MethodLegacyTable:
		// SPEC_FULL.md §9 / spec.md §9: the legacy table cipher is an
		// interop shim implementers should require explicit opt-in for;
		// an explicit method value is exactly that opt-in.
	default:
		return fmt.Errorf("config: 'method' %q is not one of %q, %q", c.Method, MethodAES256CFB, MethodLegacyTable)
	}

	if c.LocalPort != 0 {
		if err := validatePort("local_port", c.LocalPort); err != nil {
			return err
		}
	}
	if c.HTTPPort != 0 {
		if err := validatePort("http_port", c.HTTPPort); err != nil {
			return err
		}
	}
	if c.ServerPort != 0 {
		if err := validatePort("server_port", c.ServerPort); err != nil {
			return err
		}
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("config: 'max_connections' must be >= 1, got %d", c.MaxConnections)
	}
	if c.TimeoutSec < 1 {
		return fmt.Errorf("config: 'timeout_sec' must be >= 1, got %d", c.TimeoutSec)
	}
	if c.ConnectTimeoutSec < 1 {
		return fmt.Errorf("config: 'connect_timeout_sec' must be >= 1, got %d", c.ConnectTimeoutSec)
	}

	if c.Egress != nil {
		if err := c.Egress.validate(); err != nil {
			return fmt.Errorf("config: egress: %w", err)
		}
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %q out of range (1-65535), got %d", field, port)
	}
	return nil
}

func (e *EgressConfig) validate() error {
	if len(e.Addrs) == 0 {
		return fmt.Errorf("'addrs' must have at least one entry when egress is configured")
	}
	seen := make(map[string]struct{}, len(e.Addrs))
	for i, a := range e.Addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return fmt.Errorf("addrs[%d]: invalid IP address %q", i, a)
		}
		norm := ip.String()
		if _, ok := seen[norm]; ok {
			return fmt.Errorf("addrs[%d]: duplicate address %q", i, norm)
		}
		seen[norm] = struct{}{}
		e.Addrs[i] = norm
	}
	return nil
}
