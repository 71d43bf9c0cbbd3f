// Package icons maintains a best effort, disk backed cache of the small
// image assets referenced by traffic events. Every failure here is
// swallowed: an icon that cannot be fetched simply stays unresolved.
package icons

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// maxIconsPerBatch bounds request volume per EnsureManyCached invocation.
const maxIconsPerBatch = 50

// categoryIcons are cached unconditionally so they are available even when
// no current event carries that identifier.
var categoryIcons = []string{
	"roadAccident",
	"trafficMessage",
	"emergencyInformation",
	"trafficMessagePlanned",
}

var httpClient = http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
	Timeout:   15 * time.Second,
}

type Cache struct {
	dir         string
	dataURL     string
	fallbackURL string
	userAgent   string
	limiter     *rate.Limiter

	mu    sync.RWMutex
	local map[string]string
}

// NewCache creates an icon cache rooted at dir, downloading from dataURL
// first and fallbackURL second.
func NewCache(dir, dataURL, fallbackURL, userAgent string) *Cache {
	return &Cache{
		dir:         dir,
		dataURL:     dataURL,
		fallbackURL: fallbackURL,
		userAgent:   userAgent,
		limiter:     rate.NewLimiter(rate.Limit(5), 5),
		local:       map[string]string{},
	}
}

// LocalPath returns the cached file path for an icon identifier, if it has
// been resolved during this process lifetime.
func (c *Cache) LocalPath(iconID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path, ok := c.local[iconID]
	return path, ok
}

// RemoteURL returns the primary remote URL for an icon identifier.
func (c *Cache) RemoteURL(iconID string) string {
	if iconID == "" {
		return ""
	}

	return c.dataURL + url.PathEscape(iconID)
}

// EnsureManyCached de-duplicates the given identifiers, caps the batch,
// and resolves each icon plus the fixed category set. Best effort only.
func (c *Cache) EnsureManyCached(ctx context.Context, iconIDs []string) {
	unique := make([]string, 0, maxIconsPerBatch)
	seen := map[string]struct{}{}

	for _, id := range iconIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		if len(unique) >= maxIconsPerBatch {
			break
		}
	}

	for _, id := range unique {
		c.EnsureCached(ctx, id)
	}

	for _, id := range categoryIcons {
		c.EnsureCached(ctx, id)
	}
}

// EnsureCached resolves one icon identifier to a local file: a no-op if
// already resolved, otherwise reusing a non empty cached file or
// downloading a fresh copy. Exhausting all candidates leaves the icon
// unresolved without error.
func (c *Cache) EnsureCached(ctx context.Context, iconID string) {
	if iconID == "" {
		return
	}

	if _, ok := c.LocalPath(iconID); ok {
		return
	}

	pngPath := filepath.Join(c.dir, safeIconFilename(iconID, "png"))
	svgPath := filepath.Join(c.dir, safeIconFilename(iconID, "svg"))

	for _, path := range []string{pngPath, svgPath} {
		if fileNonEmpty(path) {
			c.record(iconID, path)
			return
		}
		// zero byte leftovers from interrupted writes
		if info, err := os.Stat(path); err == nil && info.Size() == 0 {
			os.Remove(path)
		}
	}

	candidates := []string{
		c.RemoteURL(iconID),
		fmt.Sprintf("%s/%s?type=png32x32", c.fallbackURL, url.PathEscape(iconID)),
	}

	for _, candidate := range candidates {
		path, ok := c.tryDownload(ctx, candidate, pngPath, svgPath)
		if ok {
			c.record(iconID, path)
			return
		}
	}

	logging.GetFromContext(ctx).Debug("icon could not be resolved", "icon", iconID)
}

func (c *Cache) tryDownload(ctx context.Context, candidate, pngPath, svgPath string) (string, bool) {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return "", false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}

	// Sniff the payload instead of trusting the declared content type:
	// these endpoints can answer JSON error bodies with status 200.
	ctype := strings.ToLower(resp.Header.Get("Content-Type"))

	if strings.Contains(ctype, "svg") || looksLikeSVG(content) {
		if !looksLikeSVG(content) {
			return "", false
		}
		if writeFileAtomic(svgPath, content) != nil {
			return "", false
		}
		return svgPath, true
	}

	if strings.Contains(ctype, "png") || looksLikePNG(content) {
		if !looksLikePNG(content) {
			return "", false
		}
		if writeFileAtomic(pngPath, content) != nil {
			return "", false
		}
		return pngPath, true
	}

	return "", false
}

func (c *Cache) record(iconID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.local[iconID] = path
}

// safeIconFilename keeps names stable and filesystem safe, ruling out
// path traversal.
func safeIconFilename(iconID, ext string) string {
	var b strings.Builder
	for _, ch := range iconID {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '-' || ch == '_' {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}

	name := b.String()
	if name == "" {
		name = "icon"
	}

	return name + "." + ext
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func looksLikePNG(data []byte) bool {
	return bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n"))
}

func looksLikeSVG(data []byte) bool {
	head := data
	if len(head) > 300 {
		head = head[:300]
	}
	head = bytes.TrimLeft(head, " \t\r\n")

	return bytes.HasPrefix(head, []byte("<")) && bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}

func writeFileAtomic(path string, content []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	err = os.WriteFile(tmp, content, 0o644)
	if err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
