// Package preview serves a rendered view of an export directory over HTTP
// so localized documents can be checked in a browser.
package preview

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Config configures a preview Server.
type Config struct {
	// Dir is the export directory holding .md files and their assets.
	Dir string
	// Addr is the listen address. Default: "127.0.0.1:8088".
	Addr string
	// Logger for request events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8088"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server renders Markdown documents from a directory.
type Server struct {
	cfg Config
	md  goldmark.Markdown
}

// New creates a Server over the given directory.
func New(cfg Config) *Server {
	cfg.defaults()
	return &Server{
		cfg: cfg,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// Handler builds the HTTP routes: an index of documents, a rendered view
// per document and static serving for everything else (the assets).
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/doc/{name}", s.handleDocument)
	r.Handle("/*", http.FileServer(http.Dir(s.cfg.Dir)))
	return r
}

// ListenAndServe serves the preview until ctx is canceled, then shuts
// the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.cfg.Logger.Info("preview: listening", "addr", s.cfg.Addr, "dir", s.cfg.Dir)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>tickmd preview</title></head><body>
<h1>Documents</h1>
<ul>
{{range .}}<li><a href="/doc/{{.}}">{{.}}</a></li>
{{end}}</ul>
</body></html>
`))

var docTmpl = template.Must(template.New("doc").Parse(`<!doctype html>
<html><head><title>{{.Name}}</title>
<style>body{max-width:52rem;margin:2rem auto;font-family:sans-serif}img{max-width:100%}</style>
</head><body>
<p><a href="/">&larr; index</a></p>
{{.Body}}
</body></html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, names); err != nil {
		s.cfg.Logger.Warn("preview: render index", "error", err)
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// Document names never contain path separators; reject anything that
	// would escape the directory.
	if strings.ContainsAny(name, `/\`) || !strings.HasSuffix(name, ".md") {
		http.NotFound(w, r)
		return
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var body strings.Builder
	if err := s.md.Convert(data, &body); err != nil {
		http.Error(w, fmt.Sprintf("render %s: %v", name, err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = docTmpl.Execute(w, struct {
		Name string
		Body template.HTML
	}{Name: name, Body: template.HTML(body.String())})
	if err != nil {
		s.cfg.Logger.Warn("preview: render document", "name", name, "error", err)
	}
}
