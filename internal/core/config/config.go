package config

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/treesync/internal/core/observability/log"
)

var (
	ErrInvalidLevel    = errors.New("invalid log level")
	ErrInvalidEncoding = errors.New("invalid log encoding")
)

// Config describes how the engine logs and how it numbers queries and keys.
// It can be written in YAML or JSON.
type Config struct {
	Log  LogConfig  `json:"log" yaml:"log"`
	Sync SyncConfig `json:"sync" yaml:"sync"`
}

type LogConfig struct {
	Level    string   `json:"level" yaml:"level"`
	Encoding string   `json:"encoding" yaml:"encoding"`
	Outputs  []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Sampling bool     `json:"sampling" yaml:"sampling"`
}

type SyncConfig struct {
	// InitialTag is the first tag handed to a filtered query.
	InitialTag uint64 `json:"initial_tag" yaml:"initial_tag"`
	// PushKeySeed makes push keys reproducible. Zero uses crypto/rand.
	PushKeySeed int64 `json:"push_key_seed,omitempty" yaml:"push_key_seed,omitempty"`
}

var (
	levels    = []string{"debug", "info", "warn", "warning", "error", "fatal", "none", "off"}
	encodings = []string{"json", "console"}
)

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
			Sampling: true,
		},
		Sync: SyncConfig{
			InitialTag: 1,
		},
	}
}

// Load reads YAML from r over the defaults. An empty document yields the
// defaults.
func Load(r io.Reader) (*Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadJSON reads JSON from r over the defaults.
func LoadJSON(r io.Reader) (*Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile picks the decoder from the file extension. Anything that is not
// .json is read as YAML.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if filepath.Ext(path) == ".json" {
		return LoadJSON(f)
	}
	return Load(f)
}

func (c *Config) Validate() error {
	if !slices.Contains(levels, c.Log.Level) {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, c.Log.Level)
	}
	if !slices.Contains(encodings, c.Log.Encoding) {
		return fmt.Errorf("%w: %q", ErrInvalidEncoding, c.Log.Encoding)
	}
	return nil
}

// Logger builds the zap-backed logger described by the log section.
func (c *Config) Logger() *log.Logger {
	return log.NewWithOptions(log.ParseLevel(c.Log.Level), log.Options{
		Encoding:    c.Log.Encoding,
		OutputPaths: c.Log.Outputs,
		Sampling:    c.Log.Sampling,
	})
}

// Entropy returns the randomness source for push keys.
func (c *Config) Entropy() io.Reader {
	if c.Sync.PushKeySeed == 0 {
		return rand.Reader
	}
	return mathrand.New(mathrand.NewSource(c.Sync.PushKeySeed))
}
