// Package writer persists rendered ticket documents as .md files.
//
// Files are written atomically (write .tmp then rename) so a reader never
// observes a partially written document.
package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tickmd/tickmd/jira"
)

// Config configures a Writer.
type Config struct {
	// Dir is the output directory, created on first write.
	Dir string
	// Overwrite replaces existing files when true; otherwise existing
	// files are left alone (not an error).
	Overwrite bool
	// FilenameFormat supports {key}, {summary}, {created} and {updated}
	// placeholders. Default: "{key}.md".
	FilenameFormat string
	// Logger for write events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.FilenameFormat == "" {
		c.FilenameFormat = "{key}.md"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Writer deposits rendered documents into the output directory.
type Writer struct {
	cfg Config
}

// New creates a Writer.
func New(cfg Config) *Writer {
	cfg.defaults()
	return &Writer{cfg: cfg}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.cfg.Dir }

// WriteTicket writes one rendered document. Returns the path it lives at,
// whether it was actually (re)written, and an error on write failure.
func (w *Writer) WriteTicket(t *jira.Ticket, content string) (string, bool, error) {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", false, fmt.Errorf("writer: mkdir %s: %w", w.cfg.Dir, err)
	}

	name := w.filename(t)
	target := filepath.Join(w.cfg.Dir, name)

	if !w.cfg.Overwrite {
		if _, err := os.Stat(target); err == nil {
			w.cfg.Logger.Debug("writer: exists, skipping", "path", target)
			return target, false, nil
		}
	}

	if err := writeAtomic(target, []byte(content)); err != nil {
		return "", false, fmt.Errorf("writer: %s: %w", target, err)
	}
	w.cfg.Logger.Info("writer: wrote document", "path", target, "bytes", len(content))
	return target, true, nil
}

// filename expands the format string for a ticket and sanitizes the result.
func (w *Writer) filename(t *jira.Ticket) string {
	pairs := []string{"{key}", t.Key, "{summary}", t.Summary}
	if !t.Created.IsZero() {
		pairs = append(pairs, "{created}", t.Created.Format("20060102"))
	} else {
		pairs = append(pairs, "{created}", "")
	}
	if !t.Updated.IsZero() {
		pairs = append(pairs, "{updated}", t.Updated.Format("20060102"))
	} else {
		pairs = append(pairs, "{updated}", "")
	}

	name := strings.NewReplacer(pairs...).Replace(w.cfg.FilenameFormat)
	name = sanitizeFilename(name)
	if name == "" || name == ".md" {
		name = t.Key + ".md"
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return name
}

var illegalFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// sanitizeFilename replaces filesystem-illegal characters, trims stray
// dots and spaces, and bounds the length while keeping the extension.
func sanitizeFilename(name string) string {
	name = illegalFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	const maxLen = 200
	if len(name) > maxLen {
		ext := filepath.Ext(name)
		name = name[:maxLen-len(ext)] + ext
	}
	return name
}

// writeAtomic writes data to target via a temp file in the same directory
// followed by a rename.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
