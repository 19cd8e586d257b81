package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleready/internal/device"
	"github.com/srg/bleready/internal/session"
	"gopkg.in/yaml.v3"
)

// Supported BLE backends
const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

// Config holds application configuration. Zero fields take the tag defaults;
// a YAML file and then command-line flags override them.
type Config struct {
	LogLevel string `yaml:"log_level" default:""`
	Backend  string `yaml:"backend" default:"goble"`

	ServiceUUID        string `yaml:"service_uuid" default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID string `yaml:"characteristic_uuid" default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	NamePrefix         string `yaml:"name_prefix" default:"Power"`
	Address            string `yaml:"address" default:""`
	FallbackName       string `yaml:"fallback_name" default:"Unknown Device"`
	Command            string `yaml:"command" default:"ready"`
	EndMarker          string `yaml:"end_marker" default:""`

	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"0s"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`

	LinesCapacity int `yaml:"lines_capacity" default:"256"`
	Scrollback    int `yaml:"scrollback" default:"65536"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := cfg.Decode(f); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML from r onto cfg; keys absent in the document are left untouched
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return c.Validate()
}

// Encode writes cfg as YAML
func (c *Config) Encode(w io.Writer) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Validate checks identifiers and enumerations
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo:
	default:
		return fmt.Errorf("invalid backend: %s (must be %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo)
	}
	if _, err := device.ValidateUUID(c.ServiceUUID, c.CharacteristicUUID); err != nil {
		return err
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Command == "" {
		return fmt.Errorf("command must not be empty")
	}
	if c.LinesCapacity <= 0 {
		return fmt.Errorf("lines_capacity must be > 0")
	}
	if c.Scrollback <= 0 {
		return fmt.Errorf("scrollback must be > 0")
	}
	return nil
}

// ParseLogLevel maps a level name to a logrus level. The empty string means
// panic level, which keeps normal operation silent.
func ParseLogLevel(level string) (logrus.Level, error) {
	switch level {
	case "":
		return logrus.PanicLevel, nil
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", level)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() (*logrus.Logger, error) {
	level, err := ParseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger, nil
}

// SessionOptions maps the configuration onto controller options
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		ServiceUUID:        c.ServiceUUID,
		CharacteristicUUID: c.CharacteristicUUID,
		NamePrefix:         c.NamePrefix,
		Address:            c.Address,
		FallbackName:       c.FallbackName,
		Command:            c.Command,
		EndMarker:          c.EndMarker,
		LinesCapacity:      c.LinesCapacity,
	}
}

// Filter returns the chooser filter the session uses
func (c *Config) Filter() device.Filter {
	return device.Filter{
		NamePrefix: c.NamePrefix,
		Services:   []string{c.ServiceUUID},
		Address:    c.Address,
	}
}
