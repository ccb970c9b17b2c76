package config

import "time"

// Config is the project file, modhost.yaml.
type Config struct {
	// RunMode is the deployment tier (dev, test, stage, live). Empty means live.
	RunMode string `yaml:"runmode" json:"runmode,omitempty"`

	// Debug turns on strict run mode validation.
	Debug bool `yaml:"debug" json:"debug,omitempty"`

	// Extension is the module file extension.
	Extension string `yaml:"extension" json:"extension,omitempty" validate:"omitempty,startswith=."`

	// Site describes the host site the controllers are served from.
	Site SiteConfig `yaml:"site" json:"site"`

	// Ledger configures the bundle ledger database.
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// Controllers are registered in order.
	Controllers []ControllerConfig `yaml:"controllers" json:"controllers" validate:"dive"`

	// path is the file the config was loaded from.
	path string
}

// SiteConfig describes the host site.
type SiteConfig struct {
	ThemeDir string `yaml:"theme_dir" json:"theme_dir,omitempty"`
	ThemeURI string `yaml:"theme_uri" json:"theme_uri,omitempty" validate:"omitempty,url"`
	Secure   bool   `yaml:"secure" json:"secure,omitempty"`
}

// LedgerConfig configures the SQLite bundle ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path" json:"path,omitempty"`
}

// TelemetryConfig is the project-file subset of the telemetry settings.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	Tracing struct {
		Enabled      bool          `yaml:"enabled" json:"enabled,omitempty"`
		Exporter     string        `yaml:"exporter" json:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout none"`
		Endpoint     string        `yaml:"endpoint" json:"endpoint,omitempty"`
		SamplingRate float64       `yaml:"sampling_rate" json:"sampling_rate,omitempty" validate:"gte=0,lte=1"`
		Timeout      time.Duration `yaml:"timeout" json:"-"`
	} `yaml:"tracing" json:"tracing"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" json:"enabled,omitempty"`
		Address string `yaml:"address" json:"address,omitempty"`
		Path    string `yaml:"path" json:"path,omitempty"`
	} `yaml:"metrics" json:"metrics"`
}

// ControllerConfig registers one controller.
type ControllerConfig struct {
	// Identity is the name dispatch and scripts use for the controller.
	Identity string `yaml:"identity" json:"identity" validate:"required"`

	// Root is the controller root directory. The bundle is written there.
	Root string `yaml:"root" json:"root" validate:"required"`

	// URI is the base URI for the controller's assets.
	URI string `yaml:"uri" json:"uri,omitempty"`

	// Prefix overrides the "<identity>_" name prefix.
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`

	// Dirs are the module directories. With none, Root is used.
	Dirs []DirConfig `yaml:"dirs" json:"dirs,omitempty" validate:"dive"`

	// Classes map names to module files explicitly.
	Classes map[string]string `yaml:"classes" json:"classes,omitempty"`

	// Helpers are composed in order.
	Helpers []HelperConfig `yaml:"helpers" json:"helpers,omitempty" validate:"dive"`

	// Global publishes the controller to scripts under its identity.
	Global bool `yaml:"make_global" json:"make_global,omitempty"`
}

// DirConfig is a module directory and its optional prefix.
type DirConfig struct {
	Path   string `yaml:"path" json:"path" validate:"required"`
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`
}

// HelperConfig names a helper source: a WASM module file or a script symbol.
type HelperConfig struct {
	Wasm   string `yaml:"wasm" json:"wasm,omitempty" validate:"required_without=Symbol,excluded_with=Symbol"`
	Symbol string `yaml:"symbol" json:"symbol,omitempty" validate:"required_without=Wasm"`
	Method string `yaml:"method" json:"method,omitempty"`
	Alias  string `yaml:"alias" json:"alias,omitempty"`
}

// Path returns the file the config was loaded from, or "".
func (c *Config) Path() string { return c.path }
