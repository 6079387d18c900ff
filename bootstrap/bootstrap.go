// Package bootstrap writes a self-contained carspot home: a config file, an
// editable subject catalog and the state directory they point at.
package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"pkt.systems/carspot/internal/appconfig"
	"pkt.systems/carspot/internal/identify"
)

const (
	configName  = "config.yaml"
	catalogName = "catalog.yaml"
	stateName   = "state"
	cardsDBName = "cards.db"
)

// Options controls optional bootstrap behaviors.
type Options struct {
	// Overrides are applied to the generated config in order.
	Overrides []ConfigOverride
}

// ConfigOverride sets a dotted config path, e.g. "http.addr".
type ConfigOverride struct {
	Path  string
	Value any
}

// Paths reports where bootstrap wrote its outputs.
type Paths struct {
	ConfigPath  string
	CatalogPath string
	StateDir    string
}

// Files holds the generated artifacts before they hit disk.
type Files struct {
	ConfigYAML  []byte
	CatalogYAML []byte
}

// ParseOverride parses a "path=value" flag. Booleans and integers keep their type.
func ParseOverride(raw string) (ConfigOverride, error) {
	path, value, ok := strings.Cut(raw, "=")
	path = strings.TrimSpace(path)
	if !ok || path == "" {
		return ConfigOverride{}, fmt.Errorf("invalid override %q, want path=value", raw)
	}
	value = strings.TrimSpace(value)
	if b, err := strconv.ParseBool(value); err == nil {
		return ConfigOverride{Path: path, Value: b}, nil
	}
	if n, err := strconv.Atoi(value); err == nil {
		return ConfigOverride{Path: path, Value: n}, nil
	}
	return ConfigOverride{Path: path, Value: value}, nil
}

// HomeConfig returns the default config rooted at dir.
func HomeConfig(dir string) (appconfig.Config, error) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		return appconfig.Config{}, err
	}
	cfg.ConfigVersion = appconfig.CurrentConfigVersion
	cfg.StateDir = filepath.Join(dir, stateName)
	cfg.Cards.DBPath = filepath.Join(dir, stateName, cardsDBName)
	cfg.Identify.CatalogPath = filepath.Join(dir, catalogName)
	return cfg, nil
}

// DefaultFiles renders the config and catalog for a home at dir.
func DefaultFiles(dir string, opts Options) (Files, error) {
	cfg, err := HomeConfig(dir)
	if err != nil {
		return Files{}, err
	}
	cfg, err = applyOverrides(cfg, opts.Overrides)
	if err != nil {
		return Files{}, err
	}
	configYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return Files{}, err
	}
	return Files{
		ConfigYAML:  configYAML,
		CatalogYAML: identify.DefaultCatalogYAML(),
	}, nil
}

// WriteBootstrap writes a carspot home into outputDir.
func WriteBootstrap(outputDir string, overwrite bool) (Paths, error) {
	return WriteBootstrapWithOptions(outputDir, overwrite, Options{})
}

// WriteBootstrapWithOptions writes a carspot home into outputDir with overrides.
func WriteBootstrapWithOptions(outputDir string, overwrite bool, opts Options) (Paths, error) {
	if strings.TrimSpace(outputDir) == "" {
		return Paths{}, fmt.Errorf("output directory is required")
	}
	rootDir, err := filepath.Abs(outputDir)
	if err != nil {
		rootDir = outputDir
	}
	paths := Paths{
		ConfigPath:  filepath.Join(rootDir, configName),
		CatalogPath: filepath.Join(rootDir, catalogName),
		StateDir:    filepath.Join(rootDir, stateName),
	}
	if !overwrite {
		for _, path := range []string{paths.ConfigPath, paths.CatalogPath} {
			if _, err := os.Stat(path); err == nil {
				return Paths{}, fmt.Errorf("file already exists: %s", path)
			}
		}
	}
	files, err := DefaultFiles(rootDir, opts)
	if err != nil {
		return Paths{}, err
	}
	if err := os.MkdirAll(paths.StateDir, 0o755); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(paths.ConfigPath, files.ConfigYAML, 0o600); err != nil {
		return Paths{}, err
	}
	if err := os.WriteFile(paths.CatalogPath, files.CatalogYAML, 0o644); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func applyOverrides(cfg appconfig.Config, overrides []ConfigOverride) (appconfig.Config, error) {
	if len(overrides) == 0 {
		return cfg, nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var data map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return cfg, err
	}
	for _, override := range overrides {
		if err := setOverrideValue(data, override.Path, override.Value); err != nil {
			return cfg, err
		}
	}
	updated, err := yaml.Marshal(data)
	if err != nil {
		return cfg, err
	}
	var next appconfig.Config
	if err := yaml.Unmarshal(updated, &next); err != nil {
		return cfg, fmt.Errorf("apply overrides: %w", err)
	}
	return next, nil
}

func setOverrideValue(root map[string]any, path string, value any) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("config override path is required")
	}
	parts := strings.Split(path, ".")
	node := root
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("invalid config override path %q", path)
		}
		if i == len(parts)-1 {
			node[part] = value
			return nil
		}
		next, ok := node[part]
		if !ok || next == nil {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := toStringMap(next)
		if !ok {
			return fmt.Errorf("config override %q: %q is not a map", path, part)
		}
		node[part] = child
		node = child
	}
	return nil
}

func toStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			ks, ok := key.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
