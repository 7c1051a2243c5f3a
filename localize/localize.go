// Package localize rewrites remote image references in Markdown documents
// to point at locally downloaded copies.
//
// A run scans each document for ![alt](url) embeds, downloads every remote
// target once into a shared asset directory and rewrites the markup to a
// relative path. Already-local references pass through untouched, which
// makes repeated runs over the same directory idempotent. A failed
// download leaves the original URL in place; the rest of the document and
// the rest of the run proceed normally.
package localize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config configures a Pipeline.
type Config struct {
	// TrackerURL is the issue tracker base URL. References on this host
	// (or with the tracker's attachment path shape) get credentials
	// attached. Empty means no reference is treated as private.
	TrackerURL string
	// Username and APIToken authenticate private-origin downloads.
	Username string
	APIToken string
	// InsecureTLS skips certificate verification on downloads.
	InsecureTLS bool
	// AssetDir is the name of the asset directory created inside the
	// document directory. Default: "images".
	AssetDir string
	// MaxBytes caps a single asset download. Default: 50 MiB.
	MaxBytes int64
	// Concurrency bounds how many documents are processed in parallel.
	// Default: 4.
	Concurrency int
	// Logger for progress events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.AssetDir == "" {
		c.AssetDir = "images"
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = maxAssetBytes
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result holds one document's outcome.
type Result struct {
	// Rewritten reports whether the document was modified.
	Rewritten bool
	// Found counts the document's remote image references.
	Found int
	// Downloaded counts references resolved to a local asset, including
	// ones served from the per-run cache.
	Downloaded int
	// Skipped counts non-remote references left untouched.
	Skipped int
	// Failed counts references whose download failed.
	Failed int
	// Errors holds one error per failure, in scan order. An unreadable
	// document carries the read error here.
	Errors []error
}

// RunResult is one run's complete result set: every document attempted
// has an entry in Documents, plus the run-level sums.
type RunResult struct {
	// Documents maps document file names to their individual results.
	Documents map[string]Result
	// Rewritten is how many documents were actually modified.
	Rewritten int
	// Found, Downloaded, Skipped and Failed sum the per-document counts.
	Found      int
	Downloaded int
	Skipped    int
	Failed     int
	// Errors collects every document's errors.
	Errors []error
}

func (r *RunResult) add(name string, doc Result) {
	if r.Documents == nil {
		r.Documents = make(map[string]Result)
	}
	r.Documents[name] = doc
	if doc.Rewritten {
		r.Rewritten++
	}
	r.Found += doc.Found
	r.Downloaded += doc.Downloaded
	r.Skipped += doc.Skipped
	r.Failed += doc.Failed
	r.Errors = append(r.Errors, doc.Errors...)
}

// Pipeline localizes image references for a directory of documents. One
// Pipeline holds one run's download cache; create a fresh Pipeline per
// run so transient failures are retried next time.
type Pipeline struct {
	cfg   Config
	scan  *scanner
	dl    *downloader
	cache *downloadCache
	names *nameAllocator
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:   cfg,
		scan:  newScanner(cfg.TrackerURL),
		dl:    newDownloader(cfg.Username, cfg.APIToken, cfg.InsecureTLS, cfg.MaxBytes, cfg.Logger),
		cache: newDownloadCache(),
		names: newNameAllocator(),
	}
}

// Scan reports the references in a single document without touching
// anything on disk.
func (p *Pipeline) Scan(content string) []Reference {
	return p.scan.Scan(content)
}

// ProcessDir localizes every .md file directly inside dir. Subdirectories
// are not descended into. The only fatal error is being unable to read
// the directory or create the asset directory; anything that goes wrong
// inside a single document is recorded in the Result and the run
// continues.
func (p *Pipeline) ProcessDir(ctx context.Context, dir string) (RunResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return RunResult{}, fmt.Errorf("localize: read dir %s: %w", dir, err)
	}

	var docs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		docs = append(docs, e.Name())
	}
	sort.Strings(docs)
	if len(docs) == 0 {
		return RunResult{}, nil
	}

	assetDir := filepath.Join(dir, p.cfg.AssetDir)
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return RunResult{}, fmt.Errorf("localize: mkdir %s: %w", assetDir, err)
	}

	var (
		mu  sync.Mutex
		run RunResult
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.cfg.Concurrency)
	)
	for _, name := range docs {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			res := p.processDocument(ctx, filepath.Join(dir, name), assetDir)
			mu.Lock()
			run.add(name, res)
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	p.cfg.Logger.Info("localize: run complete",
		"documents", len(run.Documents),
		"found", run.Found,
		"downloaded", run.Downloaded,
		"skipped", run.Skipped,
		"failed", run.Failed)
	return run, nil
}

// ProcessFile localizes a single document, placing assets in the
// document directory's asset subdirectory.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (Result, error) {
	assetDir := filepath.Join(filepath.Dir(path), p.cfg.AssetDir)
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("localize: mkdir %s: %w", assetDir, err)
	}
	return p.processDocument(ctx, path, assetDir), nil
}

// processDocument handles one document end to end. Every outcome,
// including an unreadable file, lands in the returned Result.
func (p *Pipeline) processDocument(ctx context.Context, path, assetDir string) Result {
	var res Result

	data, err := os.ReadFile(path)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("localize: read %s: %w", path, err))
		return res
	}
	content := string(data)

	refs := p.scan.Scan(content)
	var repls []replacement
	for _, ref := range refs {
		if !ref.Remote() {
			res.Skipped++
			continue
		}
		res.Found++

		assetPath, err := p.resolve(ctx, filepath.Base(path), ref, assetDir)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, err)
			p.cfg.Logger.Warn("localize: download failed",
				"document", filepath.Base(path), "url", ref.URL, "error", err)
			continue
		}
		res.Downloaded++
		repls = append(repls, replacement{ref: ref, assetPath: assetPath})
	}

	if len(repls) == 0 {
		return res
	}

	rewritten, err := rewrite(content, filepath.Dir(path), repls)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}
	if rewritten == content {
		return res
	}
	if err := writeDocument(path, rewritten); err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}
	res.Rewritten = true
	p.cfg.Logger.Info("localize: rewrote document",
		"document", filepath.Base(path), "references", len(repls))
	return res
}

// resolve returns the local path for a reference's URL, downloading it on
// first use and serving every later request from the cache.
func (p *Pipeline) resolve(ctx context.Context, docName string, ref Reference, assetDir string) (string, error) {
	entry, owner := p.cache.claim(ref.URL)
	if !owner {
		select {
		case <-entry.done:
			return entry.path, entry.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	name := p.names.allocate(assetDir, docName, ref)
	path, err := p.dl.fetch(ctx, ref, assetDir, name)
	if err != nil {
		p.names.release(name)
	}
	p.cache.publish(ref.URL, entry, path, err)
	return path, err
}
