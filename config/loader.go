package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/orchid/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORCHID"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges DefaultConfig, every layer and the environment.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(DefaultConfig())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "load layer")
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a layer as a generic map, YAML or JSON by extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies ORCHID_* environment variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		*dst = val
		return nil
	}
	num := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_%s=%q", errors.ErrInvalidConfig, l.envPrefix, name, s),
				"Loader", "applyEnvOverrides", "parse integer")
		}
		*dst = n
		return nil
	}

	var interval string
	for _, apply := range []func() error{
		func() error { return str("RUN_TITLE", &cfg.Run.Title) },
		func() error { return num("RUN_NUMBER", &cfg.Run.Number) },
		func() error { return str("RUN_DIRECTORY", &cfg.Run.Directory) },
		func() error { return num("OUTPUT_FILES", &cfg.Output.Files) },
		func() error { return num("OUTPUT_WRITERS", &cfg.Output.Writers) },
		func() error { return num("OUTPUT_BUFFERS", &cfg.Output.Buffers) },
		func() error { return str("OUTPUT_POLICY", &cfg.Output.Policy) },
		func() error { return str("METRICS_ADDRESS", &cfg.Metrics.Address) },
		func() error { return str("LOG_LEVEL", &cfg.Log.Level) },
		func() error { return str("LOG_FORMAT", &cfg.Log.Format) },
		func() error { return str("LOG_FILE", &cfg.Log.File) },
		func() error { return str("SLOW_CONTROLS_INTERVAL", &interval) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}

	if interval != "" {
		d, err := parseDurationWithDays(interval)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %s_SLOW_CONTROLS_INTERVAL: %w", errors.ErrInvalidConfig, l.envPrefix, err),
				"Loader", "applyEnvOverrides", "parse duration")
		}
		cfg.SlowControls.Interval = Duration(d)
	}
	return nil
}

// SaveToFile writes the configuration as YAML or JSON by extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return errors.WrapInvalid(err, "Config", "SaveToFile", "encode configuration")
	}
	if err := safeWriteFile(path, data); err != nil {
		return errors.WrapIO(err, "Config", "SaveToFile", "write configuration")
	}
	return nil
}
