package localize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readDoc(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestScan(t *testing.T) {
	s := newScanner("https://jira.example.com")

	content := "intro\n" +
		"![first](https://cdn.example.com/a.png)\n" +
		"text ![second pic](https://jira.example.com/rest/api/3/attachment/content/10001)\n" +
		"![local](images/done.png)\n" +
		"![](https://cdn.example.com/b.png)\n"

	refs := s.Scan(content)
	if len(refs) != 4 {
		t.Fatalf("len(refs) = %d, want 4", len(refs))
	}

	if refs[0].AltText != "first" || refs[0].URL != "https://cdn.example.com/a.png" {
		t.Errorf("refs[0] = %+v", refs[0])
	}
	if refs[0].RawMarkup != "![first](https://cdn.example.com/a.png)" {
		t.Errorf("raw markup = %q", refs[0].RawMarkup)
	}
	if refs[0].PrivateOrigin {
		t.Error("cdn URL classified private")
	}
	if !refs[1].PrivateOrigin {
		t.Error("tracker attachment URL not classified private")
	}
	if refs[2].Remote() {
		t.Error("relative path classified remote")
	}
	if refs[3].AltText != "" {
		t.Errorf("empty alt = %q", refs[3].AltText)
	}
}

func TestScanNoReferences(t *testing.T) {
	s := newScanner("")
	if refs := s.Scan("plain text, no images here"); len(refs) != 0 {
		t.Errorf("refs = %v", refs)
	}
}

func TestPrivateOriginClassification(t *testing.T) {
	tests := []struct {
		name    string
		tracker string
		url     string
		want    bool
	}{
		{"host match", "https://jira.example.com", "https://jira.example.com/secure/attachment/1/x.png", true},
		{"rest attachment shape on other host", "https://jira.example.com", "https://proxy.internal/rest/api/3/attachment/content/9", true},
		{"public cdn", "https://jira.example.com", "https://cdn.example.com/x.png", false},
		{"no tracker configured", "", "https://jira.example.com/rest/api/3/attachment/content/9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScanner(tt.tracker)
			if got := s.privateOrigin(tt.url); got != tt.want {
				t.Errorf("privateOrigin(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestRemote(t *testing.T) {
	for url, want := range map[string]bool{
		"https://cdn.example.com/x.png":    true,
		"http://cdn.example.com/x.png":     true,
		"images/x.png":                     false,
		"../shared/x.png":                  false,
		"data:image/png;base64,iVBORw0=":   false,
		"ftp://files.example.com/x.png":    false,
	} {
		ref := Reference{URL: url}
		if got := ref.Remote(); got != want {
			t.Errorf("Remote(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestNameAllocator(t *testing.T) {
	a := newNameAllocator()

	name := a.allocate("", "PROJ-12.md", Reference{URL: "https://cdn.example.com/shot.png"})
	if name != "PROJ-12-shot.png" {
		t.Errorf("name = %q", name)
	}

	// Same basename from a different URL collides into a numbered variant.
	name = a.allocate("", "PROJ-12.md", Reference{URL: "https://other.example.com/shot.png"})
	if name != "PROJ-12-shot-1.png" {
		t.Errorf("collision name = %q", name)
	}
	name = a.allocate("", "PROJ-12.md", Reference{URL: "https://third.example.com/shot.png"})
	if name != "PROJ-12-shot-2.png" {
		t.Errorf("second collision name = %q", name)
	}
}

func TestNameAllocatorFallbacks(t *testing.T) {
	a := newNameAllocator()

	// No extension in the URL path; alt text supplies the name.
	name := a.allocate("", "PROJ-1.md", Reference{
		AltText: "diagram.png",
		URL:     "https://jira.example.com/rest/api/3/attachment/content/10001",
	})
	if name != "PROJ-1-diagram.png" {
		t.Errorf("alt fallback = %q", name)
	}

	// Neither URL nor alt give a usable name; synthetic name is stable.
	ref := Reference{AltText: "screenshot", URL: "https://jira.example.com/rest/api/3/attachment/content/10002"}
	name = a.allocate("", "PROJ-1.md", ref)
	if !strings.HasPrefix(name, "PROJ-1-image-") || !strings.HasSuffix(name, ".png") {
		t.Errorf("synthetic name = %q", name)
	}
}

func TestNameAllocatorSanitizes(t *testing.T) {
	a := newNameAllocator()
	name := a.allocate("", "notes.md", Reference{URL: "https://cdn.example.com/a%3Cb%3E.png"})
	if strings.ContainsAny(name, `<>:"/\|?*`) {
		t.Errorf("unsanitized name %q", name)
	}
	if !strings.HasPrefix(name, "notes-") {
		t.Errorf("stem prefix lost: %q", name)
	}
}

func TestNameAllocatorAvoidsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PROJ-9-shot.png"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	a := newNameAllocator()
	name := a.allocate(dir, "PROJ-9.md", Reference{URL: "https://cdn.example.com/shot.png"})
	if name != "PROJ-9-shot-1.png" {
		t.Errorf("name = %q", name)
	}
}

func TestNameAllocatorRelease(t *testing.T) {
	a := newNameAllocator()
	name := a.allocate("", "PROJ-1.md", Reference{URL: "https://cdn.example.com/shot.png"})
	a.release(name)

	again := a.allocate("", "PROJ-1.md", Reference{URL: "https://cdn.example.com/shot.png"})
	if again != name {
		t.Errorf("released name not reused: %q then %q", name, again)
	}
}

func TestDocPrefix(t *testing.T) {
	if got := docPrefix("PROJ-123 Fix crash.md"); got != "PROJ-123" {
		t.Errorf("docPrefix = %q", got)
	}
	if got := docPrefix("notes.md"); got != "notes" {
		t.Errorf("docPrefix = %q", got)
	}
}

func TestProcessDirLocalizes(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	doc := writeDoc(t, dir, "PROJ-1.md",
		fmt.Sprintf("# PROJ-1\n\n![shot](%s/shot.png)\n", srv.URL))

	p := New(Config{Concurrency: 1})
	res, err := p.ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 1 || res.Downloaded != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Rewritten != 1 {
		t.Errorf("rewritten = %d", res.Rewritten)
	}

	content := readDoc(t, doc)
	if !strings.Contains(content, "![shot](images/PROJ-1-shot.png)") {
		t.Errorf("rewrite missing:\n%s", content)
	}
	if strings.Contains(content, srv.URL) {
		t.Errorf("remote URL survived:\n%s", content)
	}

	data, err := os.ReadFile(filepath.Join(dir, "images", "PROJ-1-shot.png"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("asset content = %q", data)
	}
}

func TestProcessDirDeduplicates(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("shared"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	url := srv.URL + "/logo.png"
	docA := writeDoc(t, dir, "PROJ-1.md", fmt.Sprintf("![logo](%s)\n", url))
	docB := writeDoc(t, dir, "PROJ-2.md", fmt.Sprintf("![logo](%s)\n![logo](%s)\n", url, url))

	p := New(Config{})
	res, err := p.ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	if res.Found != 3 || res.Downloaded != 3 {
		t.Errorf("result = %+v", res)
	}

	// Both documents point at the same single asset.
	a, b := readDoc(t, docA), readDoc(t, docB)
	entries, _ := os.ReadDir(filepath.Join(dir, "images"))
	if len(entries) != 1 {
		t.Fatalf("asset count = %d, want 1", len(entries))
	}
	local := "images/" + entries[0].Name()
	if !strings.Contains(a, local) || !strings.Contains(b, local) {
		t.Errorf("documents do not share the asset:\n%s\n%s", a, b)
	}
	if strings.Count(b, local) != 2 {
		t.Errorf("both occurrences should be rewritten:\n%s", b)
	}
}

func TestProcessDirIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	doc := writeDoc(t, dir, "PROJ-3.md", fmt.Sprintf("![a](%s/a.png)\n", srv.URL))

	if _, err := New(Config{}).ProcessDir(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	first := readDoc(t, doc)

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 0 || res.Downloaded != 0 || res.Rewritten != 0 {
		t.Errorf("second run result = %+v", res)
	}
	if res.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Skipped)
	}
	if second := readDoc(t, doc); second != first {
		t.Errorf("document changed on second run:\n%s\n---\n%s", first, second)
	}
}

func TestNonRemotePassthrough(t *testing.T) {
	dir := t.TempDir()
	body := "![rel](images/x.png)\n![data](data:image/png;base64,AAAA)\n"
	doc := writeDoc(t, dir, "PROJ-4.md", body)

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 0 || res.Skipped != 2 {
		t.Errorf("result = %+v", res)
	}
	if got := readDoc(t, doc); got != body {
		t.Errorf("document modified: %q", got)
	}
}

func TestFailureKeepsOriginalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	doc := writeDoc(t, dir, "PROJ-5.md", fmt.Sprintf(
		"![gone](%s/missing.png)\n![fine](%s/fine.png)\n", srv.URL, srv.URL))

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found != 2 || res.Downloaded != 1 || res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}

	var de *DownloadError
	if len(res.Errors) != 1 || !errors.As(res.Errors[0], &de) {
		t.Fatalf("errors = %v", res.Errors)
	}
	if de.Kind != FailureStatus || de.StatusCode != 404 {
		t.Errorf("failure = %+v", de)
	}

	content := readDoc(t, doc)
	if !strings.Contains(content, srv.URL+"/missing.png") {
		t.Errorf("failed reference lost its URL:\n%s", content)
	}
	if !strings.Contains(content, "![fine](images/PROJ-5-fine.png)") {
		t.Errorf("healthy reference not rewritten:\n%s", content)
	}
}

func TestRetryAfterFailureKeepsCleanName(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	// The same URL twice in one document: the first occurrence fails and
	// is evicted, the second retries. The retry must get the original
	// name back, not a numbered variant.
	dir := t.TempDir()
	url := srv.URL + "/shot.png"
	doc := writeDoc(t, dir, "PROJ-1.md", fmt.Sprintf("![shot](%s)\n![shot](%s)\n", url, url))

	res, err := New(Config{Concurrency: 1}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Downloaded != 1 {
		t.Fatalf("result = %+v", res)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "images"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "PROJ-1-shot.png" {
		t.Errorf("assets = %v, want only PROJ-1-shot.png", entries)
	}
	if !strings.Contains(readDoc(t, doc), "![shot](images/PROJ-1-shot.png)") {
		t.Errorf("retried reference not rewritten:\n%s", readDoc(t, doc))
	}
}

func TestOversizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 256))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeDoc(t, dir, "PROJ-6.md", fmt.Sprintf("![big](%s/big.png)\n", srv.URL))

	p := New(Config{MaxBytes: 100})
	res, err := p.ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("result = %+v", res)
	}
	var de *DownloadError
	if !errors.As(res.Errors[0], &de) || de.Kind != FailureOversize {
		t.Errorf("error = %v", res.Errors[0])
	}

	// No partial asset and no leftover temp file.
	entries, _ := os.ReadDir(filepath.Join(dir, "images"))
	if len(entries) != 0 {
		t.Errorf("leftover files: %v", entries)
	}
}

func TestCredentialsOnlyForPrivateOrigin(t *testing.T) {
	var mu sync.Mutex
	auth := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth[r.URL.Path] = r.Header.Get("Authorization")
		mu.Unlock()
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeDoc(t, dir, "PROJ-7.md", fmt.Sprintf(
		"![private](%s/rest/api/3/attachment/content/1.png)\n![public](%s/public.png)\n",
		srv.URL, srv.URL))

	// Tracker host differs from the test server, so only the attachment
	// path shape marks the first reference private.
	p := New(Config{
		TrackerURL: "https://jira.example.com",
		Username:   "bot@example.com",
		APIToken:   "secret",
	})
	if _, err := p.ProcessDir(context.Background(), dir); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth["/rest/api/3/attachment/content/1.png"] == "" {
		t.Error("private-origin request missing credentials")
	}
	if auth["/public.png"] != "" {
		t.Error("credentials leaked to public origin")
	}
}

func TestDownloadCacheClaim(t *testing.T) {
	c := newDownloadCache()

	e1, owner := c.claim("u")
	if !owner {
		t.Fatal("first claim should own")
	}
	e2, owner := c.claim("u")
	if owner || e2 != e1 {
		t.Fatal("second claim should wait on the first entry")
	}

	c.publish("u", e1, "/tmp/a.png", nil)
	<-e2.done
	if e2.path != "/tmp/a.png" || e2.err != nil {
		t.Fatalf("entry = %+v", e2)
	}

	// Success stays cached.
	if _, owner := c.claim("u"); owner {
		t.Error("successful URL reclaimed")
	}
}

func TestDownloadCacheRetriesFailures(t *testing.T) {
	c := newDownloadCache()

	e, _ := c.claim("u")
	c.publish("u", e, "", errors.New("boom"))

	if _, owner := c.claim("u"); !owner {
		t.Error("failed URL should be claimable again")
	}
}

func TestProcessDirSkipsNonMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "readme.txt", "![x](https://cdn.example.com/x.png)")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeDoc(t, filepath.Join(dir, "nested"), "inner.md", "![x](https://cdn.example.com/x.png)")

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 0 || res.Found != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestProcessDirPerDocumentResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("img"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	writeDoc(t, dir, "PROJ-1.md", fmt.Sprintf("![ok](%s/ok.png)\n", srv.URL))
	writeDoc(t, dir, "PROJ-2.md", fmt.Sprintf("![gone](%s/missing.png)\n", srv.URL))

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Documents) != 2 {
		t.Fatalf("documents = %d, want 2", len(res.Documents))
	}

	good, ok := res.Documents["PROJ-1.md"]
	if !ok {
		t.Fatal("PROJ-1.md missing from result set")
	}
	if good.Downloaded != 1 || good.Failed != 0 || !good.Rewritten {
		t.Errorf("PROJ-1.md result = %+v", good)
	}

	bad, ok := res.Documents["PROJ-2.md"]
	if !ok {
		t.Fatal("PROJ-2.md missing from result set")
	}
	if bad.Downloaded != 0 || bad.Failed != 1 || bad.Rewritten {
		t.Errorf("PROJ-2.md result = %+v", bad)
	}
	if len(bad.Errors) != 1 {
		t.Errorf("PROJ-2.md errors = %v", bad.Errors)
	}

	// Run sums equal the per-document sums.
	if res.Downloaded != 1 || res.Failed != 1 || res.Rewritten != 1 {
		t.Errorf("run sums = %+v", res)
	}
}

func TestProcessDirCoversDocumentsWithoutReferences(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "PROJ-4.md", "no images here")

	res, err := New(Config{}).ProcessDir(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := res.Documents["PROJ-4.md"]
	if !ok {
		t.Fatal("PROJ-4.md missing from result set")
	}
	if len(doc.Errors) != 0 || doc.Found != 0 || doc.Rewritten {
		t.Errorf("result = %+v", doc)
	}
}

func TestRewriteReplacesOnePerReference(t *testing.T) {
	content := "![shot](https://cdn.example.com/a.png)\n" +
		"![shot](https://cdn.example.com/a.png)\n"
	ref := Reference{
		AltText:   "shot",
		URL:       "https://cdn.example.com/a.png",
		RawMarkup: "![shot](https://cdn.example.com/a.png)",
	}
	repls := []replacement{
		{ref: ref, assetPath: "/out/images/a.png"},
		{ref: ref, assetPath: "/out/images/a.png"},
	}

	got, err := rewrite(content, "/out", repls)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(got, "![shot](images/a.png)") != 2 {
		t.Errorf("both occurrences should be rewritten:\n%s", got)
	}
	if strings.Contains(got, "cdn.example.com") {
		t.Errorf("remote URL survived:\n%s", got)
	}
}
