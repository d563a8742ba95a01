package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the IOC configuration.
const (
	DefaultPrefix            = "image:"
	DefaultDataset           = "entry/data/data"
	DefaultReduce            = "mean"
	DefaultROIRowMax         = 1065
	DefaultROIColMax         = 1030
	DefaultROISize           = 25
	DefaultSaturationCeiling = 1e6
	DefaultThresholdFraction = 1e-4
	DefaultGRPCPort          = 50051
	DefaultHTTPPort          = 8080
	DefaultBroadcastInterval = 5 * time.Second
	DefaultWatchPattern      = "*.h5"
	DefaultWatchSettle       = 500 * time.Millisecond
)

// Config is the top-level configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	IOC      IOCConfig      `yaml:"ioc"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Server   ServerConfig   `yaml:"server"`
	Watch    WatchConfig    `yaml:"watch"`
	Alarms   AlarmsConfig   `yaml:"alarms"`
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// IOCConfig controls PV naming and how images are read.
type IOCConfig struct {
	// Prefix is prepended to every PV name, e.g. "image:" → "image:ratio".
	Prefix string `yaml:"prefix"`

	// Dataset is the path of the image dataset inside each HDF5 file.
	Dataset string `yaml:"dataset"`

	// Reduce is the method used to collapse leading axes: sum | mean.
	Reduce string `yaml:"reduce"`

	// ROI holds the initial values of the ROI PVs.
	ROI ROIConfig `yaml:"roi"`

	// PluginPath is exported as HDF5_PLUGIN_PATH so compressed detector
	// datasets (bitshuffle, LZ4) can be decoded. Empty leaves the
	// environment untouched.
	PluginPath string `yaml:"plugin_path"`
}

// ROIConfig holds the initial ROI bounds and integration half-size.
type ROIConfig struct {
	RowMin int `yaml:"row_min"`
	RowMax int `yaml:"row_max"`
	ColMin int `yaml:"col_min"`
	ColMax int `yaml:"col_max"`
	Size   int `yaml:"size"`
}

// AnalysisConfig holds the beam analysis constants.
type AnalysisConfig struct {
	// SaturationCeiling is the largest pixel value treated as valid.
	SaturationCeiling float64 `yaml:"saturation_ceiling"`

	// ThresholdFraction of the brightest pixel separates foreground from
	// background. The threshold never drops below 1 count.
	ThresholdFraction float64 `yaml:"threshold_fraction"`
}

// ServerConfig holds network listener settings.
type ServerConfig struct {
	// GRPCPort serves the gRPC health service (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the REST API, WebSocket monitors and /metrics (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how PV writes and gRPC calls are authenticated.
	Auth AuthConfig `yaml:"auth"`

	// BroadcastInterval is how often a full PV snapshot is pushed to
	// WebSocket clients (default 5s).
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the key.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// WatchConfig holds the optional directory watches, one per image channel.
type WatchConfig struct {
	Primary   DirWatch `yaml:"primary"`
	Secondary DirWatch `yaml:"secondary"`
}

// DirWatch describes one watched directory. An empty Dir disables it.
type DirWatch struct {
	Dir string `yaml:"dir"`

	// Pattern is a filepath.Match glob applied to the file's base name.
	Pattern string `yaml:"pattern"`

	// Settle is how long a file must stay unmodified before it is processed,
	// so half-written detector files are not read.
	Settle time.Duration `yaml:"settle"`
}

// Enabled reports whether a directory is configured.
func (d DirWatch) Enabled() bool { return d.Dir != "" }

// AlarmsConfig holds alarm rules and webhook delivery targets.
type AlarmsConfig struct {
	Rules    []AlarmRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlarmRule defines one threshold condition on a PV.
type AlarmRule struct {
	// Name identifies the alarm and is its deduplication key.
	Name string `yaml:"name"`

	// Condition is "<pv> <op> <number>" with op one of > >= < <= ==,
	// e.g. "ratio < 0.05". The PV name is used without the prefix.
	Condition string `yaml:"condition"`

	// Severity is one of: major | minor | info. Defaults to minor.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after the alarm fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.Watch.Primary.fill()
	cfg.Watch.Secondary.fill()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		IOC: IOCConfig{
			Prefix:  DefaultPrefix,
			Dataset: DefaultDataset,
			Reduce:  DefaultReduce,
			ROI: ROIConfig{
				RowMax: DefaultROIRowMax,
				ColMax: DefaultROIColMax,
				Size:   DefaultROISize,
			},
		},
		Analysis: AnalysisConfig{
			SaturationCeiling: DefaultSaturationCeiling,
			ThresholdFraction: DefaultThresholdFraction,
		},
		Server: ServerConfig{
			GRPCPort:          DefaultGRPCPort,
			HTTPPort:          DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
	}
}

func (d *DirWatch) fill() {
	if d.Pattern == "" {
		d.Pattern = DefaultWatchPattern
	}
	if d.Settle == 0 {
		d.Settle = DefaultWatchSettle
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q unknown: want debug|info|warn|error", cfg.LogLevel)
	}
	if cfg.IOC.Dataset == "" {
		return fmt.Errorf("ioc.dataset is required")
	}
	switch cfg.IOC.Reduce {
	case "sum", "mean":
	default:
		return fmt.Errorf("ioc.reduce %q unknown: want sum|mean", cfg.IOC.Reduce)
	}
	if cfg.IOC.ROI.Size < 0 {
		return fmt.Errorf("ioc.roi.size must not be negative")
	}
	if cfg.Analysis.SaturationCeiling <= 0 {
		return fmt.Errorf("analysis.saturation_ceiling must be positive")
	}
	if f := cfg.Analysis.ThresholdFraction; f <= 0 || f > 1 {
		return fmt.Errorf("analysis.threshold_fraction %v is out of range (0, 1]", f)
	}
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	for name, w := range map[string]DirWatch{"primary": cfg.Watch.Primary, "secondary": cfg.Watch.Secondary} {
		if w.Settle < 0 {
			return fmt.Errorf("watch.%s.settle must not be negative", name)
		}
	}
	for i, r := range cfg.Alarms.Rules {
		if r.Name == "" {
			return fmt.Errorf("alarms.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alarms.rules[%d] %q: condition %q must be \"<pv> <op> <number>\"", i, r.Name, r.Condition)
		}
		switch r.Severity {
		case "major", "minor", "info", "":
		default:
			return fmt.Errorf("alarms.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range cfg.Alarms.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alarms.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}
