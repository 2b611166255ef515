package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Source    Source    `yaml:"source"`
	Geocoding Geocoding `yaml:"geocoding"`
	Store     Store     `yaml:"store"`
	Server    Server    `yaml:"server"`
	Dashboard Dashboard `yaml:"dashboard"`
	Logging   Logging   `yaml:"logging"`
}

type Source struct {
	BaseURL             string `yaml:"base_url"`
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	LocalRefreshMinutes int    `yaml:"local_refresh_minutes"`
}

type Geocoding struct {
	Provider       string            `yaml:"provider"`
	AreasURL       string            `yaml:"areas_url"`
	PostcodeURL    string            `yaml:"postcode_url"`
	APIKeyEnv      string            `yaml:"api_key_env"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Aliases        map[string]string `yaml:"aliases"`
	Overrides      []Override        `yaml:"overrides"`
}

// Override pins the coordinates of an area the live source does not cover.
type Override struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

type Store struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Dashboard struct {
	MinDate          string `yaml:"min_date"`
	TopN             int    `yaml:"top_n"`
	TableRows        int    `yaml:"table_rows"`
	DefaultArea      string `yaml:"default_area"`
	DefaultLocalArea string `yaml:"default_local_area"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for ukcovid.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "ukcovid")
}

// DataDir returns the XDG data directory for ukcovid.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "ukcovid")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/ukcovid/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'ukcovid init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Source: Source{
			BaseURL:             "https://api.coronavirus.data.gov.uk",
			TimeoutSeconds:      120,
			LocalRefreshMinutes: 60,
		},
		Geocoding: Geocoding{
			Provider:       "doogal",
			AreasURL:       "https://www.doogal.co.uk/AdministrativeAreas.php",
			PostcodeURL:    "https://www.doogal.co.uk/ShowMap.php",
			APIKeyEnv:      "GOOGLE_MAPS_API_KEY",
			TimeoutSeconds: 30,
		},
		Server: Server{Port: 8050},
		Dashboard: Dashboard{
			MinDate:          "2020-08-12",
			TopN:             5,
			TableRows:        10,
			DefaultArea:      "Sheffield",
			DefaultLocalArea: "Bents Green & Millhouses",
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	switch cfg.Geocoding.Provider {
	case "doogal", "google":
	default:
		return nil, fmt.Errorf("parsing config: unknown geocoding provider %q", cfg.Geocoding.Provider)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Store.DataDir != "" {
		return c.Store.DataDir
	}
	return DataDir()
}

// SourceTimeout returns the statistics API request timeout.
func (c *Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// LocalRefresh returns how long a local area snapshot is served before it
// is fetched again.
func (c *Config) LocalRefresh() time.Duration {
	return time.Duration(c.Source.LocalRefreshMinutes) * time.Minute
}

// GeocodingTimeout returns the coordinate lookup request timeout.
func (c *Config) GeocodingTimeout() time.Duration {
	return time.Duration(c.Geocoding.TimeoutSeconds) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
