// ABOUTME: HTTP(S) audio source downloader
// ABOUTME: Downloads remote audio into a local cache and opens it as a codec source
package fetch

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-transcoder/internal/log"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio"
	"github.com/Resonate-Protocol/resonate-transcoder/pkg/audio/codec"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 1 << 30

// extensions maps audio content types to the extension used as a probe hint.
var extensions = map[string]string{
	"audio/wav":       ".wav",
	"audio/x-wav":     ".wav",
	"audio/wave":      ".wav",
	"audio/vnd.wave":  ".wav",
	"audio/mpeg":      ".mp3",
	"audio/mp3":       ".mp3",
	"audio/flac":      ".flac",
	"audio/x-flac":    ".flac",
	"audio/ogg":       ".ogg",
	"audio/vorbis":    ".ogg",
	"audio/opus":      ".opus",
	"audio/l16":       ".pcm",
	"application/ogg": ".ogg",
}

// Downloader fetches remote audio once per URL.
type Downloader struct {
	cacheDir string
	client   *http.Client
	MaxBytes int64
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewDownloader caches into dir, or a temp directory when dir is empty.
func NewDownloader(dir string) (*Downloader, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "resonate-transcoder-fetch")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Downloader{
		cacheDir: dir,
		client:   &http.Client{Timeout: 5 * time.Minute},
		MaxBytes: DefaultMaxBytes,
	}, nil
}

// Download fetches rawURL into the cache and returns the local path.
// A URL already downloaded is served from disk.
func (d *Downloader) Download(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("not an http(s) URL: %q", rawURL)
	}

	hash := sha256.Sum256([]byte(rawURL))
	stem := fmt.Sprintf("%x", hash[:8])
	if cached, ok := d.lookup(stem); ok {
		log.Debugf("fetch: cache hit %s", cached)
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	log.Infof("Downloading %s", rawURL)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > d.MaxBytes {
		return "", audio.Errorf(audio.UnsupportedFeature, "fetch", "%s is %d bytes, limit %d", rawURL, resp.ContentLength, d.MaxBytes)
	}

	cachePath := filepath.Join(d.cacheDir, stem+extension(u, resp.Header.Get("Content-Type")))
	tmp, err := os.CreateTemp(d.cacheDir, stem+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, d.MaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", rawURL, err)
	}
	if n > d.MaxBytes {
		return "", audio.Errorf(audio.UnsupportedFeature, "fetch", "%s exceeds %d bytes", rawURL, d.MaxBytes)
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", rawURL, err)
	}

	log.Debugf("fetch: saved %s (%d bytes)", cachePath, n)
	return cachePath, nil
}

// Open downloads rawURL and opens it for decoding.
func (d *Downloader) Open(ctx context.Context, rawURL string) (*codec.Source, error) {
	p, err := d.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return codec.FromFile(p)
}

// Cleanup removes every cached download.
func (d *Downloader) Cleanup() error {
	return os.RemoveAll(d.cacheDir)
}

func (d *Downloader) lookup(stem string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(d.cacheDir, stem+"*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, true
		}
	}
	return "", false
}

// extension prefers the URL's own extension, then the content type.
// Unknown types get none, leaving the codec to the header probe.
func extension(u *url.URL, contentType string) string {
	if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return extensions[mt]
}
