package appconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/stevecastle/photomaxx/platform"
)

// Config holds the database location, the data directory that receives
// uploads and rendered outputs, and rendering settings.
type Config struct {
	DBPath  string `json:"dbPath" validate:"required"`
	DataDir string `json:"dataDir" validate:"required"`

	// JPEG quality for rendered attempts
	JPEGQuality int `json:"jpegQuality" validate:"min=1,max=100"`

	// Concurrent renders in a batch; 0 renders every preset at once
	BatchWorkers int `json:"batchWorkers" validate:"min=0,max=64"`

	// Contact sheet layout
	Sheet struct {
		Columns    int `json:"columns" validate:"min=1,max=12"`
		ThumbWidth int `json:"thumbWidth" validate:"min=32,max=2048"`
	} `json:"sheet"`
}

const (
	envDatabasePath = "DATABASE_PATH"
	envDataDir      = "PHOTOMAXX_DATA_DIR"
)

var (
	cfgMu sync.RWMutex
	cfg   Config

	validate = validator.New()
)

// DefaultDBPath returns the database path inside the platform data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "app.db")
}

// DefaultConfigPath returns the path of config.json.
func DefaultConfigPath() string {
	return filepath.Join(platform.GetDataDir(), "config.json")
}

func defaultConfig() Config {
	c := Config{
		DBPath:      DefaultDBPath(),
		DataDir:     filepath.Join(platform.GetDataDir(), "data"),
		JPEGQuality: 95,
	}
	c.Sheet.Columns = 3
	c.Sheet.ThumbWidth = 360
	return c
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// deepMergeJSON copies src into dst, merging nested objects key by key so
// that keys only present in dst survive.
func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok || !isJSONObject(existing) || !isJSONObject(v) {
			dst[k] = v
			continue
		}
		var dstObj, srcObj map[string]json.RawMessage
		if json.Unmarshal(existing, &dstObj) != nil || json.Unmarshal(v, &srcObj) != nil {
			dst[k] = v
			continue
		}
		deepMergeJSON(dstObj, srcObj)
		merged, err := json.Marshal(dstObj)
		if err != nil {
			dst[k] = v
			continue
		}
		dst[k] = merged
	}
}

// Load reads config.json from the platform data directory.
func Load() (Config, string, error) {
	path := DefaultConfigPath()
	c, err := LoadFrom(path)
	return c, path, err
}

// LoadFrom reads the config at path, creating it with defaults when it does
// not exist and filling defaults for missing fields. Environment overrides
// are applied last and never written back.
func LoadFrom(path string) (Config, error) {
	def := defaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("Creating default config", "path", path)
		if err := SaveTo(path, def); err != nil {
			return Config{}, fmt.Errorf("create default config: %w", err)
		}
		return finish(def)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fillDefaults(&c) {
		if err := SaveTo(path, c); err != nil {
			slog.Warn("Failed to save updated config", "path", path, "error", err)
		}
	}
	return finish(c)
}

// fillDefaults sets zero fields to their defaults and reports whether
// DBPath or DataDir was filled.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false
	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
		needsSave = true
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.Sheet.Columns == 0 {
		c.Sheet.Columns = def.Sheet.Columns
	}
	if c.Sheet.ThumbWidth == 0 {
		c.Sheet.ThumbWidth = def.Sheet.ThumbWidth
	}
	return needsSave
}

func finish(c Config) (Config, error) {
	applyEnv(&c)
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.DBPath), 0755); err != nil {
		return Config{}, fmt.Errorf("create database directory: %w", err)
	}
	Set(c)
	return c, nil
}

// applyEnv lets DATABASE_PATH and PHOTOMAXX_DATA_DIR override the file.
// Relative values resolve against the working directory.
func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv(envDatabasePath)); v != "" {
		c.DBPath = absPath(v)
	}
	if v := strings.TrimSpace(os.Getenv(envDataDir)); v != "" {
		c.DataDir = absPath(v)
	}
}

func absPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Update applies fn to the config stored at path and writes it back.
// Environment overrides are not persisted: fn sees the file's values, and
// the returned config (also installed with Set) has the overrides applied.
func Update(path string, fn func(*Config)) (Config, error) {
	if _, err := LoadFrom(path); err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	fillDefaults(&c)
	fn(&c)
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	if err := SaveTo(path, c); err != nil {
		return Config{}, err
	}
	return finish(c)
}

// SaveTo writes c to path, keeping any keys already in the file that Config
// does not know about.
func SaveTo(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	base := map[string]json.RawMessage{}
	if existing, err := os.ReadFile(path); err == nil {
		var tmp map[string]json.RawMessage
		if json.Unmarshal(existing, &tmp) == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return fmt.Errorf("map config: %w", err)
	}
	deepMergeJSON(base, incoming)

	out, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
