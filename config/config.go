// Package config loads and validates the YAML query configuration and the
// YAML secrets file. Both are read once and treated as immutable afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SyntaxDSL = "dsl"
	SyntaxSQL = "sql"

	PaginatorScroll      = "scroll"
	PaginatorPointInTime = "point_in_time"
)

const (
	defaultSize              = 10000
	defaultTimeout           = 60
	defaultKeepAlive         = 5
	defaultBatchedReduceSize = 20
	defaultInterval          = "day"
	defaultDataField         = "_source"
)

// Error reports a malformed or contradictory configuration. It is returned
// from loading and from validation, before any request is made to the engine.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %s", e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// SortSpec holds the order for one sort field.
type SortSpec struct {
	Order string `yaml:"order" json:"order"`
}

// Config describes one query run: what to ask the engine, how to page
// through the answer and which part of each hit to keep.
type Config struct {
	StartDate         string              `yaml:"start_date" json:"start_date"`
	EndDate           string              `yaml:"end_date" json:"end_date"`
	Interval          string              `yaml:"interval" json:"interval"`
	Syntax            string              `yaml:"syntax" json:"syntax"`
	Paginator         string              `yaml:"paginator" json:"paginator"`
	Index             []string            `yaml:"index" json:"index"`
	DataField         string              `yaml:"data_field" json:"data_field"`
	KeepAlive         int                 `yaml:"keep_alive" json:"keep_alive"`                     // minutes
	Timeout           int                 `yaml:"timeout" json:"timeout"`                           // seconds
	BatchedReduceSize int                 `yaml:"batched_reduce_size" json:"batched_reduce_size"`
	MinScore          *float64            `yaml:"min_score" json:"min_score"`
	Size              int                 `yaml:"size" json:"size"`
	Sort              map[string]SortSpec `yaml:"sort" json:"sort"`

	// Query is a mapping for dsl syntax or a plain string for sql syntax.
	Query interface{} `yaml:"query" json:"query"`
}

// Credentials are the connection parameters for the engine. They are opaque
// to the rest of the module and must never be logged.
type Credentials struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Address returns the engine endpoint in host:port form.
func (c *Credentials) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadConfig reads a query configuration from a YAML or JSON file, applies
// defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadCredentials reads connection credentials from a YAML or JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	if err := loadFile(path, creds); err != nil {
		return nil, err
	}

	if creds.Host == "" {
		return nil, &Error{Field: "host", Reason: "missing in credentials file"}
	}
	if creds.Port == 0 {
		return nil, &Error{Field: "port", Reason: "missing in credentials file"}
	}

	return creds, nil
}

func loadFile(path string, out interface{}) error {
	path = strings.TrimSpace(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return &Error{Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	switch {
	case strings.HasSuffix(path, ".yml"), strings.HasSuffix(path, ".yaml"):
		if err := yaml.Unmarshal(data, out); err != nil {
			return &Error{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
	default:
		return &Error{Reason: fmt.Sprintf("unsupported file type %q, expecting yaml or json", path)}
	}

	return nil
}

// ApplyDefaults fills unset tuning knobs with the engine-friendly defaults.
func (c *Config) ApplyDefaults() {
	if c.Size == 0 {
		c.Size = defaultSize
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.BatchedReduceSize == 0 {
		c.BatchedReduceSize = defaultBatchedReduceSize
	}
	if c.Interval == "" {
		c.Interval = defaultInterval
	}
	if c.DataField == "" {
		c.DataField = defaultDataField
	}
}

// Validate checks required fields and the cross-field rules between syntax,
// paginator and the query payload.
func (c *Config) Validate() error {
	switch c.Syntax {
	case SyntaxDSL, SyntaxSQL:
	case "":
		return &Error{Field: "syntax", Reason: "required, expecting dsl or sql"}
	default:
		return &Error{Field: "syntax", Reason: fmt.Sprintf("expecting dsl or sql, got %q", c.Syntax)}
	}

	switch c.Paginator {
	case PaginatorScroll, PaginatorPointInTime:
	case "":
		return &Error{Field: "paginator", Reason: "required, expecting scroll or point_in_time"}
	default:
		return &Error{Field: "paginator", Reason: fmt.Sprintf("expecting scroll or point_in_time, got %q", c.Paginator)}
	}

	if len(c.Index) == 0 {
		return &Error{Field: "index", Reason: "at least one index is required"}
	}

	if c.Query == nil {
		return &Error{Field: "query", Reason: "required"}
	}

	switch c.Syntax {
	case SyntaxDSL:
		if _, ok := c.QueryBody(); !ok {
			return &Error{Field: "query", Reason: "dsl syntax requires a structured query object"}
		}
	case SyntaxSQL:
		if _, ok := c.QueryString(); !ok {
			return &Error{Field: "query", Reason: "sql syntax requires a query string"}
		}
		// scroll continuation has no defined shape for string queries
		if c.Paginator == PaginatorScroll {
			return &Error{Field: "paginator", Reason: "sql syntax cannot be combined with scroll pagination"}
		}
	}

	if c.Paginator == PaginatorPointInTime && len(c.Sort) == 0 {
		return &Error{Field: "sort", Reason: "point_in_time pagination requires a sort specification"}
	}

	if c.Size < 0 {
		return &Error{Field: "size", Reason: "must be positive"}
	}

	return nil
}

// QueryBody returns the structured query object for dsl syntax.
func (c *Config) QueryBody() (map[string]interface{}, bool) {
	body, ok := c.Query.(map[string]interface{})
	return body, ok
}

// QueryString returns the query text for sql syntax.
func (c *Config) QueryString() (string, bool) {
	s, ok := c.Query.(string)
	return s, ok
}

// KeepAliveDuration returns the cursor keep-alive as a duration.
func (c *Config) KeepAliveDuration() time.Duration {
	return time.Duration(c.KeepAlive) * time.Minute
}

// KeepAliveString returns the cursor keep-alive in the engine's time unit
// notation, e.g. "5m".
func (c *Config) KeepAliveString() string {
	return fmt.Sprintf("%dm", c.KeepAlive)
}

// TimeoutDuration returns the per-request timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
