// Package jira is a minimal Jira REST v2 client covering what tickmd needs:
// fetching issues, JQL search with pagination, the field catalogue, and a
// connection check. Authentication is HTTP basic with an API token; with no
// credentials configured all requests go out unauthenticated.
package jira

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrNotFound     = errors.New("issue not found")
	ErrUnauthorized = errors.New("authentication failed")
)

// Config configures a Client.
type Config struct {
	// URL is the tracker base URL, e.g. https://jira.example.com.
	URL string
	// Username and APIToken enable basic auth when both are set.
	Username string
	APIToken string
	// VerifySSL disables certificate verification when false.
	// Deliberate operator choice for self-hosted instances, not a default.
	VerifySSL bool
	// Timeout per request. Default: 30s.
	Timeout time.Duration
	// Logger for debug messages. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to one Jira instance.
type Client struct {
	base     string
	username string
	token    string
	http     *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	fields map[string]string // custom field id -> name, cached
}

// New creates a Client. The base URL is validated here so later calls can
// assume it parses.
func New(cfg Config) (*Client, error) {
	cfg.defaults()

	base := strings.TrimRight(cfg.URL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("jira: invalid base URL %q", cfg.URL)
	}

	transport := http.DefaultTransport
	if !cfg.VerifySSL {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		base:     base,
		username: cfg.Username,
		token:    cfg.APIToken,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: cfg.Logger,
	}, nil
}

// BaseURL returns the tracker base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

// Authenticated reports whether credentials are configured.
func (c *Client) Authenticated() bool { return c.username != "" && c.token != "" }

// Check verifies connectivity and credentials by fetching the current user
// and the server info. Returns a short human-readable description.
func (c *Client) Check(ctx context.Context) (string, error) {
	var me myself
	if err := c.get(ctx, "/rest/api/2/myself", nil, &me); err != nil {
		return "", fmt.Errorf("jira: myself: %w", err)
	}
	var info serverInfo
	if err := c.get(ctx, "/rest/api/2/serverInfo", nil, &info); err != nil {
		return "", fmt.Errorf("jira: server info: %w", err)
	}
	return fmt.Sprintf("%s (Jira %s)", me.DisplayName, info.Version), nil
}

// Issue fetches a single issue by key with rendered fields expanded.
func (c *Client) Issue(ctx context.Context, key string) (*Ticket, error) {
	q := url.Values{}
	q.Set("expand", "renderedFields")

	var env issueEnvelope
	if err := c.get(ctx, "/rest/api/2/issue/"+url.PathEscape(key), q, &env); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("jira: issue %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("jira: issue %s: %w", key, err)
	}

	mapping, err := c.CustomFields(ctx)
	if err != nil {
		// Custom field names are cosmetic; log and continue with ids hidden.
		c.logger.Warn("jira: custom field mapping unavailable", "error", err)
		mapping = nil
	}

	return c.extract(&env, mapping)
}

// Search runs a JQL query and returns up to max issues (one page).
func (c *Client) Search(ctx context.Context, jql string, max int) ([]*Ticket, error) {
	page, err := c.searchPage(ctx, jql, 0, max)
	if err != nil {
		return nil, err
	}
	return c.extractAll(ctx, page.Issues)
}

// SearchAll runs a JQL query and pages through all results.
func (c *Client) SearchAll(ctx context.Context, jql string) ([]*Ticket, error) {
	const pageSize = 50

	var all []issueEnvelope
	startAt := 0
	for {
		page, err := c.searchPage(ctx, jql, startAt, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Issues...)
		startAt += len(page.Issues)
		if len(page.Issues) < pageSize || (page.Total > 0 && startAt >= page.Total) {
			break
		}
	}
	c.logger.Info("jira: search complete", "jql", jql, "issues", len(all))
	return c.extractAll(ctx, all)
}

func (c *Client) searchPage(ctx context.Context, jql string, startAt, max int) (*searchPage, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(max))
	q.Set("expand", "renderedFields")

	var page searchPage
	if err := c.get(ctx, "/rest/api/2/search", q, &page); err != nil {
		return nil, fmt.Errorf("jira: search: %w", err)
	}
	return &page, nil
}

// Comments fetches the full comment list of an issue. Issue already
// returns comments inline; this exists for callers that want them without
// the rest of the fields.
func (c *Client) Comments(ctx context.Context, key string) ([]Comment, error) {
	var page commentPage
	if err := c.get(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"/comment", nil, &page); err != nil {
		return nil, fmt.Errorf("jira: comments %s: %w", key, err)
	}

	comments := make([]Comment, 0, len(page.Comments))
	for _, wc := range page.Comments {
		comments = append(comments, Comment{
			Author:  extractUser(wc.Author),
			Body:    wc.Body,
			Created: parseTime(wc.Created),
			Updated: parseTime(wc.Updated),
		})
	}
	return comments, nil
}

// CustomFields returns the id -> name mapping for custom fields, fetched
// once per client lifetime.
func (c *Client) CustomFields(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fields != nil {
		return c.fields, nil
	}

	var catalogue []Field
	if err := c.get(ctx, "/rest/api/2/field", nil, &catalogue); err != nil {
		return nil, fmt.Errorf("jira: fields: %w", err)
	}

	mapping := make(map[string]string)
	for _, f := range catalogue {
		if f.Custom {
			mapping[f.ID] = f.Name
		}
	}
	c.fields = mapping
	c.logger.Debug("jira: custom fields cached", "count", len(mapping))
	return mapping, nil
}

func (c *Client) extractAll(ctx context.Context, envs []issueEnvelope) ([]*Ticket, error) {
	mapping, err := c.CustomFields(ctx)
	if err != nil {
		mapping = nil
	}
	tickets := make([]*Ticket, 0, len(envs))
	for i := range envs {
		t, err := c.extract(&envs[i], mapping)
		if err != nil {
			c.logger.Warn("jira: skipping malformed issue", "key", envs[i].Key, "error", err)
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

// get performs a GET against path (joined to the base URL), decoding the
// JSON response into out. HTTP 401/403 and 404 map to sentinel errors.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tickmd/1.0")
	if c.Authenticated() {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
