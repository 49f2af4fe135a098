package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a JSON or YAML configuration file.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return Config{}, fmt.Errorf("config: path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes data as JSON, falling back to YAML. Numbers are normalised to
// int64 or float64 and nested mappings to map[string]any so templates see the
// same shapes regardless of the source format.
func Parse(data []byte, source string) (Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, fmt.Errorf("config: file %s is empty", source)
	}

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&cfg); err == nil {
		cfg.Globals = normaliseMap(cfg.Globals)
		return cfg, nil
	}

	cfg = Config{}
	if err := yaml.Unmarshal(data, &cfg); err == nil {
		cfg.Globals = normaliseMap(cfg.Globals)
		return cfg, nil
	}

	return Config{}, fmt.Errorf("config: parse %s: invalid JSON or YAML", source)
}

// ParseGlobals decodes a standalone JSON/YAML document of global variables.
func ParseGlobals(data []byte, source string) (map[string]any, error) {
	var out map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&out); err == nil {
		return normaliseMap(out), nil
	}
	out = nil
	if err := yaml.Unmarshal(data, &out); err == nil {
		return normaliseMap(out), nil
	}
	return nil, fmt.Errorf("config: parse globals %s: invalid JSON or YAML", source)
}

func normaliseMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = normaliseValue(value)
	}
	return out
}

func normaliseValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case int:
		return int64(v)
	case map[string]any:
		return normaliseMap(v)
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normaliseValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normaliseValue(item)
		}
		return out
	default:
		return v
	}
}
