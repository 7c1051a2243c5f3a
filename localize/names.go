package localize

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// docIDPattern matches a leading ticket key like PROJ-123 in a document
// filename; the key becomes the asset filename prefix.
var docIDPattern = regexp.MustCompile(`^[A-Z]+-\d+`)

var illegalNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// nameAllocator produces unique filenames inside the shared asset
// directory. Reservations are guarded by a mutex so concurrent workers
// never hand out the same name twice; names already on disk from earlier
// runs count as taken too.
type nameAllocator struct {
	mu       sync.Mutex
	reserved map[string]bool
}

func newNameAllocator() *nameAllocator {
	return &nameAllocator{reserved: make(map[string]bool)}
}

// allocate derives a base name from the reference, prefixes it with the
// document's ID and reserves a collision-free variant inside dir.
// name.png collides into name-1.png, name-2.png and so on.
func (a *nameAllocator) allocate(dir, docName string, ref Reference) string {
	base := baseFilename(ref)
	base = sanitizeName(docPrefix(docName) + "-" + base)

	a.mu.Lock()
	defer a.mu.Unlock()

	name := base
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; a.taken(dir, name); i++ {
		name = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	a.reserved[name] = true
	return name
}

// release frees a reservation whose download never produced a file, so
// a retry of the same URL gets the clean name back.
func (a *nameAllocator) release(name string) {
	a.mu.Lock()
	delete(a.reserved, name)
	a.mu.Unlock()
}

func (a *nameAllocator) taken(dir, name string) bool {
	if a.reserved[name] {
		return true
	}
	if dir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// docPrefix extracts the ticket key from a document filename, falling
// back to the whole stem when the name has no key shape.
func docPrefix(docName string) string {
	stem := strings.TrimSuffix(docName, path.Ext(docName))
	if key := docIDPattern.FindString(stem); key != "" {
		return key
	}
	return stem
}

// baseFilename picks a filename for the reference: URL path basename when
// it carries an image extension, then the alt text when it does, then a
// synthetic hash-derived name. The synthetic fallback hashes the URL so
// the same reference always maps to the same name.
func baseFilename(ref Reference) string {
	if u, err := url.Parse(ref.URL); err == nil {
		if b := path.Base(u.Path); hasImageExt(b) {
			return b
		}
	}
	if alt := strings.TrimSpace(ref.AltText); alt != "" && hasImageExt(alt) {
		return alt
	}
	sum := md5.Sum([]byte(ref.URL))
	return fmt.Sprintf("image-%x.png", sum[:4])
}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".bmp", ".ico"}

func hasImageExt(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// sanitizeName replaces filesystem-illegal characters, trims stray dots
// and spaces, and bounds the length while keeping the extension.
func sanitizeName(name string) string {
	name = illegalNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	const maxLen = 200
	if len(name) > maxLen {
		ext := path.Ext(name)
		name = name[:maxLen-len(ext)] + ext
	}
	return name
}
