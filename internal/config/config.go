// Package config loads the transhipment-watch configuration. Sources are
// layered, later ones winning:
//
//  1. built-in defaults
//  2. YAML file (--config, CONFIG_PATH, or one of DefaultConfigPaths)
//  3. TW_* environment variables (TW_PROXIMITY_KM -> proximity_km)
//  4. command-line flags the user actually set
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"transhipment-watch/internal/logging"
	"transhipment-watch/internal/validation"
	"transhipment-watch/watch"
)

// EnvPrefix is stripped from environment variable names before they are
// matched against config keys.
const EnvPrefix = "TW_"

// ConfigPathEnvVar names a config file when --config is not given.
const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{
	"transhipment-watch.yaml",
	"transhipment-watch.yml",
	"/etc/transhipment-watch/config.yaml",
}

// Config is the flat option set shared by every subcommand.
type Config struct {
	// Detection thresholds.
	ProximityKm             float64       `koanf:"proximity_km" validate:"gt=0"`
	DurationMin             int           `koanf:"duration_min" validate:"gt=0"`
	CandidateDurationMin    int           `koanf:"candidate_duration_min" validate:"gt=0,ltefield=DurationMin"`
	SOGThreshold            float64       `koanf:"sog_threshold" validate:"gte=0"`
	PortDistanceKm          float64       `koanf:"port_distance_km" validate:"gte=0"`
	TimeGapMin              int           `koanf:"time_gap_min" validate:"gte=0"`
	HighPriorityDurationMin int           `koanf:"high_priority_duration_min" validate:"gte=0"`
	Cadence                 time.Duration `koanf:"cadence" validate:"gt=0"`
	FingerprintBucket       time.Duration `koanf:"fingerprint_bucket" validate:"gt=0"`
	HashHexLen              int           `koanf:"hash_hex_len" validate:"gte=0,lte=64"`
	Workers                 int           `koanf:"workers" validate:"gte=0"`
	// PortsFile replaces the built-in port list when set.
	PortsFile string `koanf:"ports_file"`

	// Monitor loop.
	Interval            time.Duration `koanf:"interval" validate:"gt=0"`
	Lookback            time.Duration `koanf:"lookback" validate:"gt=0"`
	Cooldown            time.Duration `koanf:"cooldown" validate:"gt=0"`
	Timeout             time.Duration `koanf:"timeout" validate:"gte=0"`
	MaxDeliveryAttempts int           `koanf:"max_delivery_attempts" validate:"gte=0"`

	DB string `koanf:"db" validate:"required"`

	RegionEnabled bool    `koanf:"region_enabled"`
	RegionMinLat  float64 `koanf:"region_min_lat" validate:"gte=-90,lte=90"`
	RegionMaxLat  float64 `koanf:"region_max_lat" validate:"gte=-90,lte=90,gtefield=RegionMinLat"`
	RegionMinLon  float64 `koanf:"region_min_lon" validate:"gte=-180,lte=180"`
	RegionMaxLon  float64 `koanf:"region_max_lon" validate:"gte=-180,lte=180,gtefield=RegionMinLon"`

	// Delivery. Header and label maps can only come from the YAML file.
	NoNotify           bool              `koanf:"no_notify"`
	WebhookURL         string            `koanf:"webhook_url" validate:"omitempty,url"`
	WebhookHeaders     map[string]string `koanf:"webhook_headers"`
	WebhookTimeout     time.Duration     `koanf:"webhook_timeout" validate:"gte=0"`
	WebhookMinInterval time.Duration     `koanf:"webhook_min_interval" validate:"gte=0"`
	SyslogAddr         string            `koanf:"syslog_addr" validate:"omitempty,hostname_port"`
	SyslogAppName      string            `koanf:"syslog_app_name"`
	SyslogSDID         string            `koanf:"syslog_sd_id"`
	SyslogLabels       map[string]string `koanf:"syslog_labels"`
	SyslogTimeout      time.Duration     `koanf:"syslog_timeout" validate:"gte=0"`
	BreakerFailures    uint32            `koanf:"breaker_failures"`
	BreakerOpenTimeout time.Duration     `koanf:"breaker_open_timeout" validate:"gte=0"`

	MetricsAddr string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`

	LogLevel  string `koanf:"log_level" validate:"omitempty,oneof=trace debug info warn warning error disabled off"`
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=json console"`
	LogCaller bool   `koanf:"log_caller"`
}

func defaultConfig() *Config {
	det := watch.DefaultDetectionConfig()
	region := watch.DefaultRegion()
	return &Config{
		ProximityKm:             det.ProximityKm,
		DurationMin:             det.DurationMin,
		CandidateDurationMin:    det.CandidateDurationMin,
		SOGThreshold:            det.SOGThreshold,
		PortDistanceKm:          det.PortDistanceKm,
		TimeGapMin:              det.TimeGapMin,
		HighPriorityDurationMin: det.HighPriorityDurationMin,
		Cadence:                 det.Cadence,
		FingerprintBucket:       det.FingerprintBucket,
		HashHexLen:              det.HashHexLen,
		Workers:                 0, // sequential pairing

		Interval:            5 * time.Minute,
		Lookback:            60 * time.Minute,
		Cooldown:            watch.DefaultCooldown,
		MaxDeliveryAttempts: 12,

		DB: "transhipment-watch.db",

		RegionEnabled: true,
		RegionMinLat:  region.MinLat,
		RegionMaxLat:  region.MaxLat,
		RegionMinLon:  region.MinLon,
		RegionMaxLon:  region.MaxLon,

		WebhookTimeout:     10 * time.Second,
		WebhookMinInterval: 500 * time.Millisecond,
		SyslogAppName:      "transhipment-watch",
		SyslogSDID:         "ais",
		SyslogTimeout:      3 * time.Second,
		BreakerFailures:    3,
		BreakerOpenTimeout: time.Minute,

		LogLevel:  "info",
		LogFormat: "json",
	}
}

// LoadOptions selects the file and the flag overrides for Load.
type LoadOptions struct {
	// Path is an explicit config file. It must exist when set.
	Path string
	// Overrides maps config keys to flag values, applied last.
	Overrides map[string]any
}

// Load builds the configuration from every source and validates it. Any
// failure wraps watch.ErrConfiguration.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: load defaults: %v", watch.ErrConfiguration, err)
	}

	path, err := findConfigFile(opts.Path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: load config file %s: %v", watch.ErrConfiguration, path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("%w: load environment: %v", watch.ErrConfiguration, err)
	}

	for key, val := range opts.Overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("%w: override %s: %v", watch.ErrConfiguration, key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", watch.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if path != "" {
		logging.Debug().Str("path", path).Msg("config file loaded")
	}
	return cfg, nil
}

func findConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: config file: %v", watch.ErrConfiguration, err)
		}
		return explicit, nil
	}
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransformFunc maps TW_SOG_THRESHOLD to sog_threshold.
func envTransformFunc(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}

// Validate checks field ranges and the cross-field rules.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", watch.ErrConfiguration, err)
	}
	if c.NoNotify && (c.WebhookURL != "" || c.SyslogAddr != "") {
		logging.Warn().Msg("no_notify is set; webhook and syslog delivery are disabled")
	}
	return nil
}

// Detection returns the detection thresholds, with the port list read from
// PortsFile when one is configured.
func (c *Config) Detection() (watch.DetectionConfig, error) {
	det := watch.DefaultDetectionConfig()
	det.ProximityKm = c.ProximityKm
	det.DurationMin = c.DurationMin
	det.CandidateDurationMin = c.CandidateDurationMin
	det.SOGThreshold = c.SOGThreshold
	det.PortDistanceKm = c.PortDistanceKm
	det.TimeGapMin = c.TimeGapMin
	det.HighPriorityDurationMin = c.HighPriorityDurationMin
	det.Cadence = c.Cadence
	det.FingerprintBucket = c.FingerprintBucket
	det.HashHexLen = c.HashHexLen
	det.Workers = c.Workers

	if c.PortsFile != "" {
		ports, err := watch.LoadPorts(c.PortsFile)
		if err != nil {
			if errors.Is(err, watch.ErrConfiguration) {
				return det, err
			}
			return det, fmt.Errorf("%w: %v", watch.ErrConfiguration, err)
		}
		det.Ports = ports
	}
	if err := det.Validate(); err != nil {
		return det, err
	}
	return det, nil
}

// Runner returns the monitor loop settings.
func (c *Config) Runner() (watch.RunnerConfig, error) {
	det, err := c.Detection()
	if err != nil {
		return watch.RunnerConfig{}, err
	}
	return watch.RunnerConfig{
		Detection:           det,
		Interval:            c.Interval,
		Lookback:            c.Lookback,
		Cooldown:            c.Cooldown,
		Timeout:             c.Timeout,
		MaxDeliveryAttempts: c.MaxDeliveryAttempts,
	}, nil
}

// Region returns the query bounding box, or nil when filtering is off.
func (c *Config) Region() *watch.Region {
	if !c.RegionEnabled {
		return nil
	}
	return &watch.Region{MinLat: c.RegionMinLat, MaxLat: c.RegionMaxLat, MinLon: c.RegionMinLon, MaxLon: c.RegionMaxLon}
}

// Notifier assembles the configured transports. Each one sits behind its own
// circuit breaker; with none configured, or with NoNotify, alerts are only
// logged.
func (c *Config) Notifier() watch.Notifier {
	if c.NoNotify {
		return watch.LogNotifier{}
	}
	breaker := watch.BreakerConfig{ConsecutiveFailures: c.BreakerFailures, OpenTimeout: c.BreakerOpenTimeout}

	var members []watch.Notifier
	if c.WebhookURL != "" {
		members = append(members, watch.NewBreakerNotifier(watch.NewWebhookNotifier(watch.WebhookConfig{
			URL:         c.WebhookURL,
			Headers:     c.WebhookHeaders,
			Timeout:     c.WebhookTimeout,
			MinInterval: c.WebhookMinInterval,
		}), breaker))
	}
	if c.SyslogAddr != "" {
		members = append(members, watch.NewBreakerNotifier(watch.NewSyslogNotifier(watch.SyslogConfig{
			Addr:    c.SyslogAddr,
			AppName: c.SyslogAppName,
			SDID:    c.SyslogSDID,
			Labels:  c.SyslogLabels,
			Timeout: c.SyslogTimeout,
		}), breaker))
	}

	switch len(members) {
	case 0:
		return watch.LogNotifier{}
	case 1:
		return members[0]
	default:
		return watch.NewMultiNotifier(members...)
	}
}

// Logging returns the logger settings.
func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat, Caller: c.LogCaller}
}
