package localize

import "sync"

// cacheEntry is one URL's download outcome. done is closed once path/err
// are published; waiters block on it instead of re-downloading.
type cacheEntry struct {
	done chan struct{}
	path string
	err  error
}

// downloadCache deduplicates downloads per run. The first goroutine to
// claim a URL performs the download; everyone else waits for its result.
// Failed entries are evicted after publication so a later document in the
// same run retries instead of inheriting a stale failure.
type downloadCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func newDownloadCache() *downloadCache {
	return &downloadCache{entries: make(map[string]*cacheEntry)}
}

// claim returns the entry for url and whether the caller owns it. The
// owner must call publish exactly once; non-owners wait on entry.done.
func (c *downloadCache) claim(url string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[url]; ok {
		return e, false
	}
	e := &cacheEntry{done: make(chan struct{})}
	c.entries[url] = e
	return e, true
}

// publish records the outcome and wakes waiters. On failure the entry is
// removed so the URL can be claimed again.
func (c *downloadCache) publish(url string, e *cacheEntry, path string, err error) {
	e.path = path
	e.err = err
	close(e.done)

	if err != nil {
		c.mu.Lock()
		delete(c.entries, url)
		c.mu.Unlock()
	}
}
