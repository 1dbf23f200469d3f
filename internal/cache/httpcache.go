package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotConfigured is returned when the cache has no directory.
var ErrNotConfigured = errors.New("cache dir not configured")

// Entry is the metadata stored next to a cached response body. It carries
// what is needed to revalidate with If-None-Match / If-Modified-Since.
type Entry struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	Size         int       `json:"size"`
	SavedAt      time.Time `json:"saved_at"`
}

// Revalidatable reports whether the entry has a validator to send upstream.
func (e *Entry) Revalidatable() bool {
	return e != nil && (e.ETag != "" || e.LastModified != "")
}

// HTTPCache stores fetched responses on disk as <key>.meta.json and
// <key>.body where key is sha256(url). No eviction happens on write; see
// PurgeHTTPCacheByAge.
type HTTPCache struct {
	Dir string
	// StrictPerms creates the directory as 0700 and files as 0600.
	StrictPerms bool
}

func (c *HTTPCache) dirPerm() os.FileMode {
	if c.StrictPerms {
		return 0o700
	}
	return 0o755
}

func (c *HTTPCache) filePerm() os.FileMode {
	if c.StrictPerms {
		return 0o600
	}
	return 0o644
}

func (c *HTTPCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return ErrNotConfigured
	}
	if err := os.MkdirAll(c.Dir, c.dirPerm()); err != nil {
		return err
	}
	if c.StrictPerms {
		// MkdirAll leaves an existing directory untouched
		if info, err := os.Stat(c.Dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(c.Dir, 0o700)
		}
	}
	return nil
}

func (c *HTTPCache) key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

func (c *HTTPCache) metaPath(key string) string { return filepath.Join(c.Dir, key+".meta.json") }
func (c *HTTPCache) bodyPath(key string) string { return filepath.Join(c.Dir, key+".body") }

// LoadMeta returns the metadata stored for url.
func (c *HTTPCache) LoadMeta(_ context.Context, url string) (*Entry, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.metaPath(c.key(url)))
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &e, nil
}

// LoadBody returns the cached body for url.
func (c *HTTPCache) LoadBody(_ context.Context, url string) ([]byte, error) {
	if err := c.ensureDir(); err != nil {
		return nil, err
	}
	return os.ReadFile(c.bodyPath(c.key(url)))
}

// Save writes body and metadata for url. The metadata file is replaced
// atomically so a reader never sees a half-written entry.
func (c *HTTPCache) Save(_ context.Context, url string, contentType string, etag string, lastModified string, body []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	key := c.key(url)
	if err := os.WriteFile(c.bodyPath(key), body, c.filePerm()); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	meta := Entry{
		URL:          url,
		ContentType:  contentType,
		ETag:         etag,
		LastModified: lastModified,
		Size:         len(body),
		SavedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tmp := c.metaPath(key) + ".tmp"
	if err := os.WriteFile(tmp, data, c.filePerm()); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, c.metaPath(key))
}
