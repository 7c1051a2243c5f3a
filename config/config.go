// Package config loads tickmd configuration from a YAML file, a .env file,
// and environment variables, in that order of increasing precedence.
//
// Credentials never need to live in the YAML file: JIRA_URL, JIRA_USERNAME
// and JIRA_API_TOKEN environment variables override whatever the file says.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingURL is returned by Load when no tracker URL is configured.
// Modes that work without a tracker (preview, offline localization) match
// it with errors.Is and fall back to Default.
var ErrMissingURL = errors.New("jira url is required (set jira.url or JIRA_URL)")

// Config holds all tickmd configuration.
type Config struct {
	Jira     JiraConfig     `yaml:"jira"`
	Query    QueryConfig    `yaml:"query"`
	Output   OutputConfig   `yaml:"output"`
	Markdown MarkdownConfig `yaml:"markdown"`
	Images   ImagesConfig   `yaml:"images"`
}

// JiraConfig identifies the tracker instance and its credentials.
type JiraConfig struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	APIToken  string `yaml:"api_token"`
	VerifySSL *bool  `yaml:"verify_ssl"` // nil means true
}

// QueryConfig is the default JQL query used when none is given on the CLI.
type QueryConfig struct {
	JQL        string `yaml:"jql"`
	MaxResults int    `yaml:"max_results"`
}

// OutputConfig controls where and how documents are written.
type OutputConfig struct {
	Directory      string `yaml:"directory"`
	FilenameFormat string `yaml:"filename_format"`
	Overwrite      bool   `yaml:"overwrite"`
}

// MarkdownConfig controls document rendering.
type MarkdownConfig struct {
	IncludeMetadataTable *bool  `yaml:"include_metadata_table"`
	IncludeComments      *bool  `yaml:"include_comments"`
	IncludeAttachments   *bool  `yaml:"include_attachments"`
	IncludeSubtasks      *bool  `yaml:"include_subtasks"`
	IncludeLinks         *bool  `yaml:"include_links"`
	DateFormat           string `yaml:"date_format"` // Go reference layout
	ConvertMarkup        *bool  `yaml:"convert_markup"`
}

// ImagesConfig controls image localization.
type ImagesConfig struct {
	Directory   string `yaml:"directory"` // relative to output directory unless absolute
	MaxSizeMB   int    `yaml:"max_size_mb"`
	Concurrency int    `yaml:"concurrency"`
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. A .env file in the working directory is
// loaded if present (missing is not an error).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.defaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JIRA_URL"); v != "" {
		c.Jira.URL = v
	}
	if v := os.Getenv("JIRA_USERNAME"); v != "" {
		c.Jira.Username = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		c.Jira.APIToken = v
	}
}

func (c *Config) defaults() {
	if c.Query.JQL == "" {
		c.Query.JQL = "ORDER BY created DESC"
	}
	if c.Query.MaxResults <= 0 {
		c.Query.MaxResults = 100
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "./output"
	}
	if c.Output.FilenameFormat == "" {
		c.Output.FilenameFormat = "{key}.md"
	}
	if c.Markdown.DateFormat == "" {
		c.Markdown.DateFormat = "2006-01-02 15:04:05"
	}
	if c.Images.Directory == "" {
		c.Images.Directory = "images"
	}
	if c.Images.MaxSizeMB <= 0 {
		c.Images.MaxSizeMB = 50
	}
	if c.Images.Concurrency <= 0 {
		c.Images.Concurrency = 4
	}
}

func (c *Config) validate() error {
	if c.Jira.URL == "" {
		return fmt.Errorf("config: %w", ErrMissingURL)
	}
	u, err := url.Parse(c.Jira.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: jira url %q is not a valid http(s) URL", c.Jira.URL)
	}
	// Credentials are optional, but half a pair is a misconfiguration.
	if (c.Jira.Username == "") != (c.Jira.APIToken == "") {
		return fmt.Errorf("config: jira username and api token must be set together")
	}
	return nil
}

// Default returns a Config with defaults applied and no tracker
// configured.
func Default() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

// VerifySSL reports whether TLS certificates should be verified.
func (c *JiraConfig) VerifySSLEnabled() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}

// BaseURL returns the tracker URL without a trailing slash.
func (c *JiraConfig) BaseURL() string {
	return strings.TrimRight(c.URL, "/")
}

// Enabled helpers for optional markdown section toggles (default true).

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (m *MarkdownConfig) MetadataTable() bool { return boolDefault(m.IncludeMetadataTable, true) }
func (m *MarkdownConfig) Comments() bool      { return boolDefault(m.IncludeComments, true) }
func (m *MarkdownConfig) Attachments() bool   { return boolDefault(m.IncludeAttachments, true) }
func (m *MarkdownConfig) Subtasks() bool      { return boolDefault(m.IncludeSubtasks, true) }
func (m *MarkdownConfig) Links() bool         { return boolDefault(m.IncludeLinks, true) }
func (m *MarkdownConfig) Markup() bool        { return boolDefault(m.ConvertMarkup, true) }
