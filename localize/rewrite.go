package localize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// replacement rewrites one reference's markup to point at a local asset.
type replacement struct {
	ref       Reference
	assetPath string
}

// rewrite applies replacements to content in scan order. Each replacement
// swaps exactly one occurrence of the original markup for an image
// reference whose target is the asset's path relative to the document.
func rewrite(content, docDir string, repls []replacement) (string, error) {
	for _, r := range repls {
		rel, err := filepath.Rel(docDir, r.assetPath)
		if err != nil {
			return "", fmt.Errorf("localize: relative path for %s: %w", r.assetPath, err)
		}
		markup := fmt.Sprintf("![%s](%s)", r.ref.AltText, filepath.ToSlash(rel))
		content = strings.Replace(content, r.ref.RawMarkup, markup, 1)
	}
	return content, nil
}

// writeDocument persists rewritten content atomically, matching how
// documents are written in the first place.
func writeDocument(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("localize: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localize: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localize: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localize: rename: %w", err)
	}
	return nil
}
