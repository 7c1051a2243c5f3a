// Package convert renders Jira tickets as Markdown documents.
//
// Two body paths exist: tracker-rendered HTML fields go through bluemonday
// sanitation and html-to-markdown conversion; raw wiki markup falls back to
// a rule-based converter. Both produce image references that the localizer
// can later rewrite to local paths.
package convert

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tickmd/tickmd/jira"
)

// Options controls which sections are rendered and how.
type Options struct {
	// BaseURL of the tracker, used for browse links and for resolving
	// relative links in rendered HTML.
	BaseURL string
	// Section toggles. The zero value of Options disables nothing; use
	// DefaultOptions for the usual set.
	MetadataTable bool
	Comments      bool
	Attachments   bool
	Subtasks      bool
	Links         bool
	// ConvertMarkup disables wiki-markup conversion when false (bodies are
	// emitted verbatim).
	ConvertMarkup bool
	// DateFormat is a Go reference layout. Default: "2006-01-02 15:04:05".
	DateFormat string
	// Logger for conversion fallbacks. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns Options with every section enabled.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:       baseURL,
		MetadataTable: true,
		Comments:      true,
		Attachments:   true,
		Subtasks:      true,
		Links:         true,
		ConvertMarkup: true,
	}
}

// Renderer converts tickets to Markdown documents.
type Renderer struct {
	opts   Options
	html   *htmlConverter
	logger *slog.Logger
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	if opts.DateFormat == "" {
		opts.DateFormat = "2006-01-02 15:04:05"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		opts:   opts,
		html:   newHTMLConverter(opts.BaseURL),
		logger: logger,
	}
}

// Render produces the full Markdown document for a ticket.
func (r *Renderer) Render(t *jira.Ticket) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("# [%s] %s", t.Key, t.Summary), "")

	if r.opts.MetadataTable {
		sections = append(sections, r.renderMetadata(t), "")
	}

	if t.Description != "" || t.RenderedDescription != "" {
		sections = append(sections, "## Description", "", r.renderBody(t, t.Description, t.RenderedDescription), "")
	}

	if r.opts.Comments && len(t.Comments) > 0 {
		sections = append(sections, r.renderComments(t), "")
	}

	if len(t.CustomFields) > 0 {
		sections = append(sections, r.renderCustomFields(t), "")
	}

	if r.opts.Attachments && len(t.Attachments) > 0 {
		sections = append(sections, r.renderAttachments(t), "")
	}

	if r.opts.Subtasks && len(t.Subtasks) > 0 {
		sections = append(sections, r.renderSubtasks(t), "")
	}

	if r.opts.Links && (len(t.Links) > 0 || t.Parent != "" || t.URL != "") {
		sections = append(sections, r.renderLinks(t), "")
	}

	sections = append(sections, r.renderFooter())

	return strings.Join(sections, "\n")
}

// renderBody picks the best conversion path for a body field.
func (r *Renderer) renderBody(t *jira.Ticket, wiki, rendered string) string {
	if !r.opts.ConvertMarkup {
		if wiki != "" {
			return wiki
		}
		return rendered
	}
	if rendered != "" {
		md, err := r.html.Convert(rendered)
		if err == nil {
			return md
		}
		r.logger.Debug("convert: html path failed, using wiki markup", "key", t.Key, "error", err)
	}
	if wiki == "" {
		return "_No description provided._"
	}
	return WikiToMarkdown(wiki, attachmentURLs(t))
}

// attachmentURLs maps attachment filenames to content URLs for embed
// resolution.
func attachmentURLs(t *jira.Ticket) map[string]string {
	if len(t.Attachments) == 0 {
		return nil
	}
	m := make(map[string]string, len(t.Attachments))
	for _, a := range t.Attachments {
		m[a.Filename] = a.URL
	}
	return m
}

func (r *Renderer) renderMetadata(t *jira.Ticket) string {
	lines := []string{"## Metadata", "", "| Field | Value |", "|-------|-------|"}

	row := func(field, value string) {
		if value == "" {
			return
		}
		value = strings.ReplaceAll(value, "|", `\|`)
		lines = append(lines, fmt.Sprintf("| **%s** | %s |", field, value))
	}

	row("Key", t.Key)
	row("Status", orDash(t.Status))
	row("Type", orDash(t.Type))
	row("Priority", orDash(t.Priority))

	if t.Assignee != nil {
		row("Assignee", t.Assignee.Name)
	} else {
		row("Assignee", "Unassigned")
	}
	if t.Reporter != nil {
		row("Reporter", t.Reporter.Name)
	}

	row("Created", r.date(t.Created))
	row("Updated", r.date(t.Updated))
	row("Resolved", r.date(t.Resolved))
	row("Due Date", r.date(t.Due))
	row("Resolution", t.Resolution)
	row("Labels", strings.Join(t.Labels, ", "))
	row("Components", strings.Join(t.Components, ", "))
	row("Fix Versions", strings.Join(t.FixVersions, ", "))
	row("Affects Versions", strings.Join(t.AffectsVersions, ", "))

	return strings.Join(lines, "\n")
}

func (r *Renderer) renderComments(t *jira.Ticket) string {
	lines := []string{"## Comments", ""}
	urls := attachmentURLs(t)

	for _, c := range t.Comments {
		author := "Unknown"
		if c.Author != nil {
			author = c.Author.Name
		}
		created := "Unknown"
		if !c.Created.IsZero() {
			created = c.Created.Format(r.opts.DateFormat)
		}
		lines = append(lines, fmt.Sprintf("### %s - %s", author, created), "")

		body := c.Body
		if r.opts.ConvertMarkup {
			body = WikiToMarkdown(body, urls)
		}
		lines = append(lines, body, "")
	}

	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

func (r *Renderer) renderCustomFields(t *jira.Ticket) string {
	lines := []string{"## Custom Fields", ""}
	for _, name := range sortedKeys(t.CustomFields) {
		lines = append(lines, fmt.Sprintf("- **%s**: %s", name, t.CustomFields[name]))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) renderAttachments(t *jira.Ticket) string {
	lines := []string{"## Attachments", ""}
	for _, a := range t.Attachments {
		lines = append(lines, fmt.Sprintf("- [%s](%s) (%s)", a.Filename, a.URL, formatSize(a.Size)))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) renderSubtasks(t *jira.Ticket) string {
	lines := []string{"## Subtasks", ""}
	for _, key := range t.Subtasks {
		lines = append(lines, "- [ ] "+key)
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) renderLinks(t *jira.Ticket) string {
	lines := []string{"## Links", ""}

	if t.Parent != "" {
		lines = append(lines, fmt.Sprintf("- **Parent Issue**: [%s](%s/browse/%s)", t.Parent, r.opts.BaseURL, t.Parent))
	}
	for _, l := range t.Links {
		linkType := l.Type
		if linkType == "" {
			linkType = "Related"
		}
		lines = append(lines, fmt.Sprintf("- **%s** (%s): [%s](%s/browse/%s) - %s",
			linkType, l.Direction, l.Key, r.opts.BaseURL, l.Key, l.Summary))
	}
	if t.URL != "" {
		lines = append(lines, "", fmt.Sprintf("- **View in JIRA**: [%s](%s)", t.Key, t.URL))
	}

	return strings.Join(lines, "\n")
}

func (r *Renderer) renderFooter() string {
	now := time.Now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("---\n*Generated on %s by tickmd*", now)
}

func (r *Renderer) date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(r.opts.DateFormat)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGT"[exp])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
