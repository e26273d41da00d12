// Package config loads the doclife configuration: the Mongo connection, the
// optional NATS event stream, logging, and the per-collection CRUD settings
// including the declared index set.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codetrek/doclife/internal/index"
	"github.com/codetrek/doclife/pkg/model"
)

// Config holds the application configuration.
type Config struct {
	Mongo       MongoConfig        `yaml:"mongo"`
	NATS        NATSConfig         `yaml:"nats"`
	Logging     LoggingConfig      `yaml:"logging"`
	Collections []CollectionConfig `yaml:"collections"`
}

// MongoConfig holds the store connection settings.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// NATSConfig holds the change-event stream settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// SortField is one component of a collection's default sort order.
type SortField struct {
	Field string `yaml:"field"`
	Order int    `yaml:"order"` // 1 ascending, -1 descending
}

// CollectionConfig declares one managed collection.
type CollectionConfig struct {
	Name string `yaml:"name"`
	// DefaultState is the lifecycle state stamped onto inserted documents
	// that carry none. Defaults to PUBLIC.
	DefaultState   string             `yaml:"default_state"`
	DefaultSorting []SortField        `yaml:"default_sorting"`
	AllowDiskUse   bool               `yaml:"allow_disk_use"`
	Indexes        []index.Descriptor `yaml:"indexes"`
	// PreserveIndexPrefix protects externally managed indexes from the
	// synchronizer's drop pass.
	PreserveIndexPrefix string `yaml:"preserve_index_prefix"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "doclife",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "DOCLIFE",
			SubjectPrefix: "doclife",
		},
		Logging: DefaultLoggingConfig(),
	}
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for shape errors.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}

	seen := make(map[string]bool)
	for i := range c.Collections {
		coll := &c.Collections[i]
		if coll.Name == "" {
			return fmt.Errorf("collections[%d]: name is required", i)
		}
		if seen[coll.Name] {
			return fmt.Errorf("collection %q declared twice", coll.Name)
		}
		seen[coll.Name] = true

		if coll.DefaultState == "" {
			coll.DefaultState = string(model.StatePublic)
		}
		if _, err := model.ParseState(coll.DefaultState); err != nil {
			return fmt.Errorf("collection %q: %w", coll.Name, err)
		}

		for _, s := range coll.DefaultSorting {
			if s.Field == "" {
				return fmt.Errorf("collection %q: sort field name is required", coll.Name)
			}
			if s.Order != 1 && s.Order != -1 {
				return fmt.Errorf("collection %q: sort order must be 1 or -1", coll.Name)
			}
		}

		for _, idx := range coll.Indexes {
			if err := idx.Validate(); err != nil {
				return fmt.Errorf("collection %q: %w", coll.Name, err)
			}
		}
	}
	return nil
}
