package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	ngram "github.com/i5heu/ngram-corpus"
	"github.com/i5heu/ngram-corpus/pkg/logging"
)

// DefaultFile is read when no config file is named explicitly.
const DefaultFile = "ngram.yaml"

type Config struct {
	DataDir            string `yaml:"dataDir"`
	Backend            string `yaml:"backend"`
	MinimumFreeGB      uint   `yaml:"minimumFreeGB"`
	LogLevel           string `yaml:"logLevel"`
	Debug              string `yaml:"debug"`
	VocabCacheSize     int64  `yaml:"vocabCacheSize"`
	GramFilter         bool   `yaml:"gramFilter"`
	GramFilterCapacity uint   `yaml:"gramFilterCapacity"`
	SyncWrites         bool   `yaml:"syncWrites"`
	Codec              string `yaml:"codec"`
}

// Load reads path. A missing file yields the defaults unless mustExist is
// set.
func Load(path string, mustExist bool) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !mustExist:
	case err != nil:
		return config, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if config.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return config, err
		}
		config.DataDir = filepath.Join(home, ".ngram", "data")
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	if config.Codec == "" {
		config.Codec = "zstd"
	}

	return config, nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Corpus converts the file settings into a corpus configuration.
func (c Config) Corpus(logger *slog.Logger) (ngram.Config, error) {
	debug, err := logging.ParseCategories(c.Debug)
	if err != nil {
		return ngram.Config{}, err
	}
	switch ngram.Backend(c.Backend) {
	case ngram.BackendAuto, ngram.BackendBadger, ngram.BackendBolt:
	default:
		return ngram.Config{}, fmt.Errorf("unknown backend %q", c.Backend)
	}
	return ngram.Config{
		Paths:              []string{c.DataDir},
		Backend:            ngram.Backend(c.Backend),
		MinimumFreeGB:      c.MinimumFreeGB,
		Logger:             logger,
		Debug:              debug,
		VocabCacheSize:     c.VocabCacheSize,
		GramFilter:         c.GramFilter,
		GramFilterCapacity: c.GramFilterCapacity,
		SyncWrites:         c.SyncWrites,
	}, nil
}
