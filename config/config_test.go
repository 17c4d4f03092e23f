package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempFile(t, "config.yml", `
syntax: dsl
paginator: scroll
index:
  - movies
query:
  match_all: {}
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.Size)
	assert.Equal(t, 60, cfg.Timeout)
	assert.Equal(t, 5, cfg.KeepAlive)
	assert.Equal(t, 20, cfg.BatchedReduceSize)
	assert.Equal(t, "day", cfg.Interval)
	assert.Equal(t, "_source", cfg.DataField)
	assert.Nil(t, cfg.MinScore)
}

func TestLoadConfigFull(t *testing.T) {
	path := writeTempFile(t, "config.yaml", `
start_date: 2023-01-01
end_date: 2023-01-03
syntax: dsl
paginator: point_in_time
index:
  - movies
  - shows
data_field: _source
keep_alive: 10
timeout: 30
batched_reduce_size: 5
min_score: 1.5
size: 500
sort:
  year:
    order: asc
query:
  match:
    title: dune
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"movies", "shows"}, cfg.Index)
	assert.Equal(t, 500, cfg.Size)
	require.NotNil(t, cfg.MinScore)
	assert.Equal(t, 1.5, *cfg.MinScore)
	assert.Equal(t, "asc", cfg.Sort["year"].Order)

	body, ok := cfg.QueryBody()
	require.True(t, ok)
	assert.Contains(t, body, "match")
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeTempFile(t, "config.json", `{
  "syntax": "sql",
  "paginator": "point_in_time",
  "index": ["movies"],
  "sort": {"year": {"order": "asc"}},
  "query": "SELECT * FROM movies"
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	q, ok := cfg.QueryString()
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM movies", q)
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeTempFile(t, "config.toml", `syntax = "dsl"`)

	_, err := LoadConfig(path)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateSQLWithScroll(t *testing.T) {
	cfg := &Config{
		Syntax:    SyntaxSQL,
		Paginator: PaginatorScroll,
		Index:     []string{"movies"},
		Query:     "SELECT * FROM movies",
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "paginator", cfgErr.Field)
}

func TestValidateSyntaxPayloadMismatch(t *testing.T) {
	tests := []struct {
		name   string
		syntax string
		query  interface{}
	}{
		{"dsl with string payload", SyntaxDSL, "SELECT * FROM movies"},
		{"sql with structured payload", SyntaxSQL, map[string]interface{}{"match_all": map[string]interface{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Syntax:    tt.syntax,
				Paginator: PaginatorPointInTime,
				Index:     []string{"movies"},
				Sort:      map[string]SortSpec{"year": {Order: "asc"}},
				Query:     tt.query,
			}
			cfg.ApplyDefaults()

			var cfgErr *Error
			require.ErrorAs(t, cfg.Validate(), &cfgErr)
			assert.Equal(t, "query", cfgErr.Field)
		})
	}
}

func TestValidatePointInTimeRequiresSort(t *testing.T) {
	cfg := &Config{
		Syntax:    SyntaxDSL,
		Paginator: PaginatorPointInTime,
		Index:     []string{"movies"},
		Query:     map[string]interface{}{"match_all": map[string]interface{}{}},
	}
	cfg.ApplyDefaults()

	var cfgErr *Error
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "sort", cfgErr.Field)
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"no syntax", Config{Paginator: PaginatorScroll, Index: []string{"a"}, Query: map[string]interface{}{}}, "syntax"},
		{"bad syntax", Config{Syntax: "lucene", Paginator: PaginatorScroll, Index: []string{"a"}, Query: map[string]interface{}{}}, "syntax"},
		{"no paginator", Config{Syntax: SyntaxDSL, Index: []string{"a"}, Query: map[string]interface{}{}}, "paginator"},
		{"bad paginator", Config{Syntax: SyntaxDSL, Paginator: "cursor", Index: []string{"a"}, Query: map[string]interface{}{}}, "paginator"},
		{"no index", Config{Syntax: SyntaxDSL, Paginator: PaginatorScroll, Query: map[string]interface{}{}}, "index"},
		{"no query", Config{Syntax: SyntaxDSL, Paginator: PaginatorScroll, Index: []string{"a"}}, "query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ApplyDefaults()

			var cfgErr *Error
			require.ErrorAs(t, tt.cfg.Validate(), &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadCredentials(t *testing.T) {
	path := writeTempFile(t, "secrets.yml", `
host: http://localhost
port: 9200
username: elastic
password: changeme
`)

	creds, err := LoadCredentials(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9200", creds.Address())
	assert.Equal(t, "elastic", creds.Username)
}

func TestLoadCredentialsMissingHost(t *testing.T) {
	path := writeTempFile(t, "secrets.yml", `
port: 9200
username: elastic
password: changeme
`)

	_, err := LoadCredentials(path)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "host", cfgErr.Field)
}
