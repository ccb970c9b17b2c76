package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/runmode"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

const (
	// DefaultFile is the project file looked up when no path is given.
	DefaultFile = "modhost.yaml"

	// EnvDebug overrides the debug flag.
	EnvDebug = "MODHOST_DEBUG"
)

// Load reads, resolves and validates the project file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigError(fmt.Sprintf("failed to read %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.path = abs
	cfg.ResolvePaths(filepath.Dir(abs))

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a project file and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, engine.NewConfigError("failed to parse project file", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills in unset values.
func (c *Config) ApplyDefaults() {
	if c.RunMode == "" {
		c.RunMode = string(runmode.Live)
	}
	if c.Extension == "" {
		c.Extension = ".star"
	}
	if c.Controllers == nil {
		c.Controllers = []ControllerConfig{}
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = "info"
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = "console"
	}
	if c.Telemetry.Tracing.Exporter == "" {
		c.Telemetry.Tracing.Exporter = "none"
	}
	if c.Telemetry.Tracing.SamplingRate == 0 {
		c.Telemetry.Tracing.SamplingRate = 1.0
	}
}

// ApplyEnv applies MODHOST_RUNMODE and MODHOST_DEBUG when they are set.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(runmode.EnvRunMode); ok && v != "" {
		c.RunMode = v
	}
	if v, ok := os.LookupEnv(EnvDebug); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return engine.NewConfigError(fmt.Sprintf("invalid %s value %q", EnvDebug, v), err)
		}
		c.Debug = debug
	}
	return nil
}

// ResolvePaths makes every relative path in the config relative to base.
func (c *Config) ResolvePaths(base string) {
	c.Site.ThemeDir = resolve(base, c.Site.ThemeDir)
	c.Ledger.Path = resolve(base, c.Ledger.Path)

	for i := range c.Controllers {
		ctrl := &c.Controllers[i]
		ctrl.Root = resolve(base, ctrl.Root)
		for j := range ctrl.Dirs {
			ctrl.Dirs[j].Path = resolve(base, ctrl.Dirs[j].Path)
		}
		for name, path := range ctrl.Classes {
			ctrl.Classes[name] = resolve(base, path)
		}
		for j := range ctrl.Helpers {
			ctrl.Helpers[j].Wasm = resolve(base, ctrl.Helpers[j].Wasm)
		}
	}
}

func resolve(base, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Validate checks struct constraints, the CUE project schema and the run mode. An
// unknown run mode is rejected only in debug mode.
func (c *Config) Validate(ctx context.Context) error {
	if err := validator.New().Struct(c); err != nil {
		return engine.NewConfigError("invalid configuration", err)
	}

	seen := make(map[string]bool, len(c.Controllers))
	for _, ctrl := range c.Controllers {
		if seen[ctrl.Identity] {
			return engine.NewConfigError(fmt.Sprintf("controller %s is declared more than once", ctrl.Identity), nil)
		}
		seen[ctrl.Identity] = true
	}

	if err := NewSchemaRegistry().ValidateProject(ctx, c); err != nil {
		return engine.NewConfigError("project file does not match schema", err)
	}

	if c.Debug && !runmode.Mode(c.RunMode).Valid() {
		return engine.NewInvalidRunModeError(c.RunMode)
	}
	return nil
}

// ControllerDirs returns the module directories of ctrl, falling back to its root.
func (ctrl ControllerConfig) ControllerDirs() []DirConfig {
	if len(ctrl.Dirs) > 0 {
		return ctrl.Dirs
	}
	return []DirConfig{{Path: ctrl.Root, Prefix: ctrl.Prefix}}
}

// TelemetryConfig builds the telemetry configuration. The environment is the run mode.
func (c *Config) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if strings.EqualFold(c.RunMode, string(runmode.Dev)) {
		cfg = telemetry.DevelopmentConfig()
	}
	cfg.Environment = strings.ToLower(c.RunMode)

	cfg.Logging.Level = c.Telemetry.LogLevel
	cfg.Logging.Format = c.Telemetry.LogFormat

	cfg.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	cfg.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	cfg.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	cfg.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	if c.Telemetry.Tracing.Timeout > 0 {
		cfg.Tracing.ExportTimeout = c.Telemetry.Tracing.Timeout
	}

	cfg.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.Address != "" {
		cfg.Metrics.ListenAddress = c.Telemetry.Metrics.Address
	}
	if c.Telemetry.Metrics.Path != "" {
		cfg.Metrics.Path = c.Telemetry.Metrics.Path
	}
	return cfg
}
