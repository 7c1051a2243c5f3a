package localize

import (
	"net/url"
	"regexp"
	"strings"
)

// Reference is one image embed found in a document. RawMarkup is the exact
// matched substring; replacement always targets that literal text so
// look-alike markup elsewhere in the document is never touched.
type Reference struct {
	AltText       string
	URL           string
	RawMarkup     string
	PrivateOrigin bool
}

// Remote reports whether the reference points at an http(s) URL. Anything
// else (relative paths, data URIs) is left untouched by the pipeline,
// which is what makes re-runs over already-localized documents safe.
func (r *Reference) Remote() bool {
	return strings.HasPrefix(r.URL, "http://") || strings.HasPrefix(r.URL, "https://")
}

// imagePattern matches ![alt](url). Alt text cannot contain ']' and the
// URL cannot contain ')'; both are captured verbatim, no trimming. The
// document markup is machine-generated in exactly this shape, so a regex
// is sufficient here (a hand-authored corpus would need a real parser).
var imagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// scanner extracts image references and classifies their origin.
type scanner struct {
	trackerHost string
}

func newScanner(trackerURL string) *scanner {
	host := ""
	if trackerURL != "" {
		if u, err := url.Parse(trackerURL); err == nil {
			host = u.Host
		}
	}
	return &scanner{trackerHost: host}
}

// Scan returns all image references in first-to-last order of appearance.
// A document with no embeds yields an empty slice, not an error.
func (s *scanner) Scan(content string) []Reference {
	matches := imagePattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]Reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, Reference{
			AltText:       m[1],
			URL:           m[2],
			RawMarkup:     m[0],
			PrivateOrigin: s.privateOrigin(m[2]),
		})
	}
	return refs
}

// privateOrigin reports whether a URL belongs to the tracker instance and
// therefore needs the tracker's credentials: either its host matches the
// tracker host, or it carries the REST attachment path shape.
func (s *scanner) privateOrigin(rawURL string) bool {
	if s.trackerHost == "" {
		return false
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host == s.trackerHost {
		return true
	}
	return strings.Contains(rawURL, "/rest/api/") && strings.Contains(rawURL, "/attachment/")
}
