package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkt.systems/carspot/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	Identify      IdentifyConfig `mapstructure:"identify" yaml:"identify"`
	Cards         CardsConfig    `mapstructure:"cards" yaml:"cards"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls navigation and capture behavior.
type ServiceConfig struct {
	Tabs               []string `mapstructure:"tabs" yaml:"tabs"`
	ReviewDelayMS      int      `mapstructure:"review_delay_ms" yaml:"review_delay_ms"`
	CaptureOrientation string   `mapstructure:"capture_orientation" yaml:"capture_orientation"`
	CaptureTab         string   `mapstructure:"capture_tab" yaml:"capture_tab"`
	StrictLocks        bool     `mapstructure:"strict_locks" yaml:"strict_locks"`
	MaxSessions        int      `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// IdentifyConfig configures the catalog identifier.
type IdentifyConfig struct {
	// Enabled runs the catalog identifier on every submitted photo. When
	// disabled, clients resolve identification themselves.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// CatalogPath points to a YAML subject catalog. Empty uses the built-in catalog.
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
	// Watch reloads the catalog when the file changes.
	Watch bool `mapstructure:"watch" yaml:"watch"`
	// LatencyMS delays every answer to mimic a remote backend.
	LatencyMS int `mapstructure:"latency_ms" yaml:"latency_ms"`
}

// CardsConfig configures the card store.
type CardsConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	tabs := make([]string, 0, len(schema.AllTabs))
	for _, tab := range schema.AllTabs {
		tabs = append(tabs, string(tab))
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".carspot", "state"),
		Service: ServiceConfig{
			Tabs:               tabs,
			ReviewDelayMS:      int(schema.DefaultReviewDelay / time.Millisecond),
			CaptureOrientation: string(schema.OrientationPortrait),
			CaptureTab:         string(schema.TabGarage),
			StrictLocks:        false,
			MaxSessions:        schema.DefaultMaxSessions,
		},
		Identify: IdentifyConfig{
			Enabled:     true,
			CatalogPath: "",
			Watch:       true,
			LatencyMS:   400,
		},
		Cards: CardsConfig{
			DBPath: filepath.Join(home, ".carspot", "state", "cards.db"),
		},
		HTTP: HTTPConfig{
			Addr:     ":27490",
			BasePath: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".carspot", "config.yaml"), nil
}

// ServiceConfig converts the file settings into the core service config.
func (c Config) ServiceConfig() (schema.ServiceConfig, error) {
	cfg := schema.ServiceConfig{
		StateDir:    c.StateDir,
		ReviewDelay: time.Duration(c.Service.ReviewDelayMS) * time.Millisecond,
		StrictLocks: c.Service.StrictLocks,
		MaxSessions: c.Service.MaxSessions,
	}
	for _, raw := range c.Service.Tabs {
		tab, err := schema.ParseTabID(raw)
		if err != nil {
			return schema.ServiceConfig{}, fmt.Errorf("service.tabs: %w: %q", err, raw)
		}
		cfg.Tabs = append(cfg.Tabs, tab)
	}
	if c.Service.CaptureTab != "" {
		tab, err := schema.ParseTabID(c.Service.CaptureTab)
		if err != nil {
			return schema.ServiceConfig{}, fmt.Errorf("service.capture_tab: %w: %q", err, c.Service.CaptureTab)
		}
		cfg.CaptureTab = tab
	}
	if c.Service.CaptureOrientation != "" {
		orientation, ok := schema.ParseOrientation(c.Service.CaptureOrientation)
		if !ok {
			return schema.ServiceConfig{}, fmt.Errorf("service.capture_orientation: unknown orientation %q", c.Service.CaptureOrientation)
		}
		cfg.CaptureOrientation = orientation
	}
	return schema.NormalizeServiceConfig(cfg)
}
