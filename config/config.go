package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"

	"github.com/fzft/go-time-server/log"
)

const (
	DefaultPort           = 8080
	DefaultBacklog        = 1024
	DefaultWaitTimeoutMs  = 1000
	DefaultMaxEvents      = 1024
	DefaultReadBufferSize = 1024
	DefaultMetricsPath    = "/metrics"
)

var ErrUnknownFormat = errors.New("unknown config file format")

type ServerConf struct {
	Addr               string `toml:"addr" ini:"addr"`
	Port               int    `toml:"port" ini:"port"`
	Backlog            int    `toml:"backlog" ini:"backlog"`
	WaitTimeoutMs      int    `toml:"wait_timeout_ms" ini:"wait_timeout_ms"`
	MaxEvents          int    `toml:"max_events" ini:"max_events"`
	ReadBufferSize     int    `toml:"read_buffer_size" ini:"read_buffer_size"`
	QueuePartialWrites bool   `toml:"queue_partial_writes" ini:"queue_partial_writes"`
}

// WaitTimeout bounds how long the event loop sleeps before it looks at the stop signal again.
func (s ServerConf) WaitTimeout() time.Duration {
	return time.Duration(s.WaitTimeoutMs) * time.Millisecond
}

// MetricsConf configures the optional prometheus listener. An empty Addr disables it.
type MetricsConf struct {
	Addr string `toml:"addr" ini:"addr"`
	Path string `toml:"path" ini:"path"`
}

type Config struct {
	Server  ServerConf  `toml:"server" ini:"server"`
	Log     log.Conf    `toml:"log" ini:"log"`
	Metrics MetricsConf `toml:"metrics" ini:"metrics"`
}

func Default() *Config {
	return &Config{
		Server: ServerConf{
			Port:           DefaultPort,
			Backlog:        DefaultBacklog,
			WaitTimeoutMs:  DefaultWaitTimeoutMs,
			MaxEvents:      DefaultMaxEvents,
			ReadBufferSize: DefaultReadBufferSize,
		},
		Log: log.Conf{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConf{
			Path: DefaultMetricsPath,
		},
	}
}

// Load reads fileName on top of the defaults. The format is picked from the
// extension: .toml or .ini.
func Load(fileName string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".toml":
		if _, err := toml.DecodeFile(fileName, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fileName, err)
		}
	case ".ini", ".conf":
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", fileName, err)
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return nil, fmt.Errorf("map %s: %w", fileName, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, fileName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	s := c.Server
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if s.Backlog <= 0 {
		return fmt.Errorf("invalid backlog %d", s.Backlog)
	}
	if s.WaitTimeoutMs <= 0 {
		return fmt.Errorf("invalid wait timeout %dms", s.WaitTimeoutMs)
	}
	if s.MaxEvents <= 0 {
		return fmt.Errorf("invalid max events %d", s.MaxEvents)
	}
	if s.ReadBufferSize <= 0 {
		return fmt.Errorf("invalid read buffer size %d", s.ReadBufferSize)
	}
	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("invalid metrics path %q", c.Metrics.Path)
	}
	return nil
}
