// Package config reads pipeline configuration files into a nested map and
// resolves dotted key paths on demand.
//
// There is no schema: a stage asks for the keys it needs and a missing key
// fails at the first lookup with an error wrapping ErrMissingKey.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingKey = errors.New("missing configuration key")
	ErrWrongType  = errors.New("configuration value has wrong type")
)

// Config is a parsed configuration file.
type Config struct {
	root map[string]any
}

// Load reads path as YAML, or as TOML when the extension is .toml.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	root := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(raw), &root); err != nil {
			return nil, fmt.Errorf("parse toml config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, &root); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	}
	return &Config{root: root}, nil
}

// FromMap wraps an already decoded mapping.
func FromMap(m map[string]any) *Config {
	if m == nil {
		m = map[string]any{}
	}
	return &Config{root: m}
}

// Lookup resolves a dotted key path such as "base.model.model_name".
func (c *Config) Lookup(key string) (any, error) {
	var cur any = c.root
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
		next, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingKey, key)
		}
		cur = next
	}
	return cur, nil
}

// Has reports whether key resolves to a value.
func (c *Config) Has(key string) bool {
	_, err := c.Lookup(key)
	return err == nil
}

func (c *Config) String(key string) (string, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case int, int64, float64, bool:
		return fmt.Sprint(t), nil
	}
	return "", wrongType(key, "string", v)
}

func (c *Config) Int(key string) (int, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, nil
		}
	}
	return 0, wrongType(key, "int", v)
}

func (c *Config) Float(key string) (float64, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, nil
		}
	}
	return 0, wrongType(key, "float", v)
}

func (c *Config) Bool(key string) (bool, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b, nil
		}
	}
	return false, wrongType(key, "bool", v)
}

// Map returns the mapping stored at key.
func (c *Config) Map(key string) (map[string]any, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return nil, err
	}
	m, ok := asMap(v)
	if !ok {
		return nil, wrongType(key, "mapping", v)
	}
	return m, nil
}

// List returns the sequence stored at key.
func (c *Config) List(key string) ([]any, error) {
	v, err := c.Lookup(key)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return t, nil
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, nil
	}
	return nil, wrongType(key, "list", v)
}

// StringOr returns the string at key, or def when the key is absent.
func (c *Config) StringOr(key, def string) (string, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.String(key)
}

func (c *Config) IntOr(key string, def int) (int, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Int(key)
}

func (c *Config) FloatOr(key string, def float64) (float64, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Float(key)
}

func (c *Config) BoolOr(key string, def bool) (bool, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Bool(key)
}

// asMap accepts both decoder shapes: yaml.v3 and toml decode into
// map[string]any, older yaml documents may carry map[any]any.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

func wrongType(key, want string, got any) error {
	return fmt.Errorf("%w: %s: want %s, got %T", ErrWrongType, key, want, got)
}
