// Package conf defines the application settings and loads them with
// viper from a YAML file, environment variables and defaults. The
// resulting Settings struct is immutable after Load; it is passed by
// reference to the components that need it instead of being looked up
// through a package global.
package conf

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/rioncm/birdsong-go/internal/resilient"
)

// Settings contains all runtime configuration for the application.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Ingest    IngestSettings    `yaml:"ingest" mapstructure:"ingest"`
	Output    OutputSettings    `yaml:"output" mapstructure:"output"`
	Providers ProvidersSettings `yaml:"providers" mapstructure:"providers"`
	Alerts    AlertSettings     `yaml:"alerts" mapstructure:"alerts"`
	Location  LocationSettings  `yaml:"location" mapstructure:"location"`
}

// LocationSettings is the station location, used for weather lookups.
type LocationSettings struct {
	Latitude  float64 `yaml:"latitude" mapstructure:"latitude"`
	Longitude float64 `yaml:"longitude" mapstructure:"longitude"`
}

// IngestSettings controls the detection ingest pipeline.
type IngestSettings struct {
	// ConfidenceFloor drops raw detections below this confidence.
	ConfidenceFloor float64 `yaml:"confidencefloor" mapstructure:"confidencefloor"`
	// Workers bounds the number of clips processed concurrently.
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputSettings holds persistence configuration.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
}

// SQLiteSettings holds SQLite database settings.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// ProvidersSettings groups all outbound provider configuration.
type ProvidersSettings struct {
	GBIF      ProviderSettings `yaml:"gbif" mapstructure:"gbif"`
	Wikimedia ProviderSettings `yaml:"wikimedia" mapstructure:"wikimedia"`
	EBird     ProviderSettings `yaml:"ebird" mapstructure:"ebird"`
	NOAA      ProviderSettings `yaml:"noaa" mapstructure:"noaa"`
}

// ProviderSettings configures one outbound provider, including the
// resilience knobs shared by every integration.
type ProviderSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"baseurl" mapstructure:"baseurl"`
	APIKey  string `yaml:"apikey" mapstructure:"apikey"`

	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"maxattempts" mapstructure:"maxattempts"`
	BaseDelay   time.Duration `yaml:"basedelay" mapstructure:"basedelay"`
	MaxDelay    time.Duration `yaml:"maxdelay" mapstructure:"maxdelay"`

	CacheTTL         time.Duration `yaml:"cachettl" mapstructure:"cachettl"`
	NegativeCacheTTL time.Duration `yaml:"negativecachettl" mapstructure:"negativecachettl"`

	BreakerMaxFailures int           `yaml:"breakermaxfailures" mapstructure:"breakermaxfailures"`
	BreakerCooldown    time.Duration `yaml:"breakercooldown" mapstructure:"breakercooldown"`
}

// ResilienceConfig maps the provider settings onto the resilient
// framework's per-provider configuration.
func (p *ProviderSettings) ResilienceConfig() resilient.Config {
	return resilient.Config{
		Timeout:          p.Timeout,
		MaxAttempts:      p.MaxAttempts,
		BaseDelay:        p.BaseDelay,
		MaxDelay:         p.MaxDelay,
		CacheTTL:         p.CacheTTL,
		NegativeCacheTTL: p.NegativeCacheTTL,
		Breaker: resilient.BreakerConfig{
			MaxFailures: p.BreakerMaxFailures,
			Cooldown:    p.BreakerCooldown,
		},
	}
}

// AlertSettings configures the alert rule engine and its publisher.
type AlertSettings struct {
	RareSpecies    RareSpeciesRule    `yaml:"rarespecies" mapstructure:"rarespecies"`
	FirstDetection FirstDetectionRule `yaml:"firstdetection" mapstructure:"firstdetection"`
	FirstReturn    FirstReturnRule    `yaml:"firstreturn" mapstructure:"firstreturn"`

	// PushURLs are shoutrrr service URLs the push publisher delivers to.
	PushURLs []string `yaml:"pushurls" mapstructure:"pushurls"`
}

// RareSpeciesRule lists species that always trigger an alert.
type RareSpeciesRule struct {
	Enabled         bool     `yaml:"enabled" mapstructure:"enabled"`
	ScientificNames []string `yaml:"scientificnames" mapstructure:"scientificnames"`
	CommonNames     []string `yaml:"commonnames" mapstructure:"commonnames"`
}

// FirstDetectionRule alerts on the first ever detection of a species.
type FirstDetectionRule struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// FirstReturnRule alerts when a species returns after an absence.
type FirstReturnRule struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Period is a human-readable gap like "2 months" or "10 days".
	Period string `yaml:"period" mapstructure:"period"`
}

// Load reads configuration from the given file path (optional), the
// BIRDSONG_* environment and built-in defaults, and returns the
// validated settings.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("birdsong")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/birdsong")
		v.AddConfigPath("/etc/birdsong")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply. An explicit
		// path that cannot be read is not.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("ingest.confidencefloor", 0.3)
	v.SetDefault("ingest.workers", 4)

	v.SetDefault("output.sqlite.enabled", true)
	v.SetDefault("output.sqlite.path", "birdsong.db")

	providerDefaults := map[string]any{
		"enabled":            true,
		"timeout":            "10s",
		"maxattempts":        3,
		"basedelay":          "500ms",
		"maxdelay":           "5s",
		"cachettl":           "24h",
		"negativecachettl":   "1h",
		"breakermaxfailures": 5,
		"breakercooldown":    "30s",
	}
	for _, provider := range []string{"gbif", "wikimedia", "ebird", "noaa"} {
		for key, value := range providerDefaults {
			v.SetDefault("providers."+provider+"."+key, value)
		}
	}
	v.SetDefault("providers.gbif.baseurl", "https://api.gbif.org/v1")
	v.SetDefault("providers.wikimedia.baseurl", "https://en.wikipedia.org/api/rest_v1")
	v.SetDefault("providers.ebird.baseurl", "https://api.ebird.org/v2")
	v.SetDefault("providers.ebird.enabled", false)
	v.SetDefault("providers.noaa.baseurl", "https://api.weather.gov")
	v.SetDefault("providers.noaa.enabled", false)

	v.SetDefault("alerts.firstdetection.enabled", true)
	v.SetDefault("alerts.firstreturn.enabled", true)
	v.SetDefault("alerts.firstreturn.period", "2 months")
	v.SetDefault("alerts.rarespecies.enabled", false)
}

// Validate checks settings consistency before the application starts.
func (s *Settings) Validate() error {
	if s.Ingest.ConfidenceFloor < 0 || s.Ingest.ConfidenceFloor > 1 {
		return fmt.Errorf("ingest.confidencefloor must be in [0,1], got %v", s.Ingest.ConfidenceFloor)
	}
	if s.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", s.Ingest.Workers)
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path is required when sqlite is enabled")
	}
	for name, p := range map[string]*ProviderSettings{
		"gbif":      &s.Providers.GBIF,
		"wikimedia": &s.Providers.Wikimedia,
		"ebird":     &s.Providers.EBird,
		"noaa":      &s.Providers.NOAA,
	} {
		if !p.Enabled {
			continue
		}
		if p.MaxAttempts < 1 {
			return fmt.Errorf("providers.%s.maxattempts must be at least 1", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("providers.%s.timeout must be positive", name)
		}
		if p.BreakerMaxFailures < 1 {
			return fmt.Errorf("providers.%s.breakermaxfailures must be at least 1", name)
		}
	}
	return nil
}
