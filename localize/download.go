package localize

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// FailureKind classifies why a download failed.
type FailureKind string

const (
	// FailureStatus is a non-2xx HTTP response.
	FailureStatus FailureKind = "status"
	// FailureConnection covers DNS, dial and transport errors.
	FailureConnection FailureKind = "connection"
	// FailureTimeout is a deadline hit while connecting or streaming.
	FailureTimeout FailureKind = "timeout"
	// FailureOversize means the body exceeded the size cap.
	FailureOversize FailureKind = "oversize"
)

// DownloadError describes a failed asset fetch. The document keeps its
// original URL for this reference; nothing else about the run stops.
type DownloadError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	switch e.Kind {
	case FailureStatus:
		return fmt.Sprintf("localize: download %s: HTTP %d", e.URL, e.StatusCode)
	case FailureOversize:
		return fmt.Sprintf("localize: download %s: body exceeds size limit", e.URL)
	default:
		return fmt.Sprintf("localize: download %s: %v", e.URL, e.Err)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// maxAssetBytes caps a single downloaded asset at 50 MiB.
const maxAssetBytes = 50 << 20

// downloader fetches remote assets into the asset directory. Credentials
// are attached only to private-origin requests so they never leak to
// third-party hosts.
type downloader struct {
	client   *http.Client
	username string
	apiToken string
	maxBytes int64
	logger   *slog.Logger
}

func newDownloader(username, apiToken string, insecureTLS bool, maxBytes int64, logger *slog.Logger) *downloader {
	transport := http.DefaultTransport
	if insecureTLS {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	if maxBytes <= 0 {
		maxBytes = maxAssetBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &downloader{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		username: username,
		apiToken: apiToken,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// fetch downloads one asset to dir/name. The body streams through a temp
// file in dir that is renamed into place only after a complete read, so a
// truncated transfer never leaves a partial asset behind.
func (d *downloader) fetch(ctx context.Context, ref Reference, dir, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", &DownloadError{Kind: FailureConnection, URL: ref.URL, Err: err}
	}
	req.Header.Set("User-Agent", "tickmd/1.0")
	if ref.PrivateOrigin && d.username != "" {
		req.SetBasicAuth(d.username, d.apiToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &DownloadError{Kind: classifyTransportError(err), URL: ref.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DownloadError{Kind: FailureStatus, URL: ref.URL, StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > d.maxBytes {
		return "", &DownloadError{Kind: FailureOversize, URL: ref.URL}
	}

	target := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("localize: create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	// Read one byte past the cap so an oversize body without a
	// Content-Length header is still detected.
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &DownloadError{Kind: classifyTransportError(err), URL: ref.URL, Err: err}
	}
	if n > d.maxBytes {
		tmp.Close()
		os.Remove(tmpName)
		return "", &DownloadError{Kind: FailureOversize, URL: ref.URL}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("localize: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("localize: rename %s: %w", name, err)
	}

	d.logger.Debug("localize: downloaded asset", "url", ref.URL, "path", target, "bytes", n)
	return target, nil
}

// classifyTransportError separates deadline hits from other transport
// failures.
func classifyTransportError(err error) FailureKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureConnection
}
