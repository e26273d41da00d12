package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
mongo:
  uri: mongodb://db:27017
  database: store
nats:
  enabled: true
  url: nats://mq:4222
  stream: CHANGES
  subject_prefix: store
collections:
  - name: articles
    default_state: DRAFT
    allow_disk_use: true
    default_sorting:
      - field: publishedAt
        order: -1
    preserve_index_prefix: ext_
    indexes:
      - name: by_slug
        type: normal
        unique: true
        fields:
          - name: slug
            order: 1
      - name: fulltext
        type: text
        fields:
          - name: title
          - name: body
        weights:
          title: 10
          body: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://db:27017", cfg.Mongo.URI)
	assert.Equal(t, "store", cfg.Mongo.Database)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "CHANGES", cfg.NATS.Stream)

	require.Len(t, cfg.Collections, 1)
	coll := cfg.Collections[0]
	assert.Equal(t, "articles", coll.Name)
	assert.Equal(t, "DRAFT", coll.DefaultState)
	assert.True(t, coll.AllowDiskUse)
	assert.Equal(t, "ext_", coll.PreserveIndexPrefix)
	require.Len(t, coll.DefaultSorting, 1)
	assert.Equal(t, -1, coll.DefaultSorting[0].Order)
	require.Len(t, coll.Indexes, 2)
	assert.True(t, coll.Indexes[0].Unique)
	assert.EqualValues(t, 10, coll.Indexes[1].Weights["title"])
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
collections:
  - name: items
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "doclife", cfg.Mongo.Database)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "PUBLIC", cfg.Collections[0].DefaultState)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "collections: [\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		label   string
		mutate  func(*Config)
		message string
	}{
		{
			"missing mongo uri",
			func(c *Config) { c.Mongo.URI = "" },
			"mongo.uri is required",
		},
		{
			"missing mongo database",
			func(c *Config) { c.Mongo.Database = "" },
			"mongo.database is required",
		},
		{
			"nats enabled without url",
			func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" },
			"nats.url is required",
		},
		{
			"unnamed collection",
			func(c *Config) { c.Collections = []CollectionConfig{{}} },
			"name is required",
		},
		{
			"duplicate collection",
			func(c *Config) {
				c.Collections = []CollectionConfig{{Name: "a"}, {Name: "a"}}
			},
			"declared twice",
		},
		{
			"unknown default state",
			func(c *Config) {
				c.Collections = []CollectionConfig{{Name: "a", DefaultState: "LIMBO"}}
			},
			"unknown state",
		},
		{
			"bad sort order",
			func(c *Config) {
				c.Collections = []CollectionConfig{{
					Name:           "a",
					DefaultSorting: []SortField{{Field: "x", Order: 2}},
				}}
			},
			"sort order must be 1 or -1",
		},
		{
			"sort without field",
			func(c *Config) {
				c.Collections = []CollectionConfig{{
					Name:           "a",
					DefaultSorting: []SortField{{Order: 1}},
				}}
			},
			"sort field name is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidate_FillsDefaultState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collections = []CollectionConfig{{Name: "items"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "PUBLIC", cfg.Collections[0].DefaultState)
}
