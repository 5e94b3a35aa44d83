// Package config loads the server configuration: built-in defaults, then an
// optional YAML file, then command-line overrides applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pckrishnadas88/k-shell-go/internal/protocol"
	"github.com/pckrishnadas88/k-shell-go/internal/transport"
)

const (
	DefaultPort       = 8080
	DefaultPoolSize   = 4
	DefaultBufferSize = 4096
	DefaultCapacity   = 100
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole server configuration.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		Transport string `yaml:"transport"` // tcp or websocket
		WSPath    string `yaml:"ws_path"`
	} `yaml:"server"`

	Pool struct {
		Size       int `yaml:"size"`
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"pool"`

	Registry struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"registry"`

	Protocol struct {
		Sentinel string `yaml:"sentinel"`
	} `yaml:"protocol"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = fmt.Sprintf(":%d", DefaultPort)
	c.Server.Transport = string(transport.TCP)
	c.Server.WSPath = transport.DefaultWSPath
	c.Pool.Size = DefaultPoolSize
	c.Pool.BufferSize = DefaultBufferSize
	c.Registry.Capacity = DefaultCapacity
	c.Protocol.Sentinel = protocol.DefaultSentinel
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load reads path over the defaults. Unknown keys are rejected so typos do
// not silently fall back to a default.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the values the server cannot run without.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr == "" {
		problems = append(problems, "server.addr is empty")
	}
	if _, err := transport.ParseKind(c.Server.Transport); err != nil {
		problems = append(problems, "server.transport: "+err.Error())
	}
	if c.Server.Transport == string(transport.WebSocket) && !strings.HasPrefix(c.Server.WSPath, "/") {
		problems = append(problems, "server.ws_path must start with /")
	}
	if c.Pool.Size <= 0 {
		problems = append(problems, "pool.size must be positive")
	}
	if c.Pool.BufferSize < 2 {
		problems = append(problems, "pool.buffer_size must be at least 2")
	}
	if c.Registry.Capacity <= 0 {
		problems = append(problems, "registry.capacity must be positive")
	}
	if c.Protocol.Sentinel == "" {
		problems = append(problems, "protocol.sentinel is empty")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
