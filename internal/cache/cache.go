// Package cache implements the Artifact Cache: atomic on-disk storage for
// generated images and their metadata, addressed by sanitized configuration
// name.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/calendar2image/c2i-service/internal/apperrors"
	"github.com/calendar2image/c2i-service/internal/fingerprint"
	"github.com/calendar2image/c2i-service/internal/history"
	"github.com/calendar2image/c2i-service/internal/names"
)

// recentIndexSize bounds the in-memory index of recently-touched cache-form
// names.
const recentIndexSize = 256

// Metadata is the Artifact Record persisted alongside the image bytes.
type Metadata struct {
	Name               string    `json:"name"`
	CRC32              string    `json:"crc32"`
	ContentType        string    `json:"contentType"`
	ImageType          string    `json:"imageType"`
	Size               int       `json:"size"`
	Trigger            string    `json:"trigger"`
	GenerationDuration float64   `json:"generationDuration"`
	GeneratedAt        time.Time `json:"generatedAt"`
}

// Cache reads and writes artifacts under a single directory.
type Cache struct {
	dir     string
	history *history.Store

	// recent is a bounded index of recently-touched cache-form names,
	// seeded by WarmIndex, refreshed by Save and Load, and exposed through
	// RecentNames. Load, Save and Metadata do not consult it.
	recent *lru.Cache[string, time.Time]
}

// New returns a Cache rooted at dir, recording change history through h.
func New(dir string, h *history.Store) *Cache {
	recent, _ := lru.New[string, time.Time](recentIndexSize)
	return &Cache{dir: dir, history: h, recent: recent}
}

// WarmIndex seeds the recent-names index from the cache directory's
// ".meta.json" sidecar files, most-recently-modified first, so the Service
// Aggregate's startup scan doesn't start cold. It is best-effort: a failed
// directory read leaves the index empty rather than failing startup.
func (c *Cache) WarmIndex() {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.meta.json"))
	if err != nil {
		return
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	candidates := make([]candidate, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(m), ".meta.json")
		candidates = append(candidates, candidate{name: stem, modTime: info.ModTime()})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })

	for i, cand := range candidates {
		if i >= recentIndexSize {
			break
		}
		c.recent.Add(cand.name, cand.modTime)
	}
}

// RecentNames returns the cache-form names currently held in the recent
// index, most-recently-touched not guaranteed in any particular order.
func (c *Cache) RecentNames() []string {
	return c.recent.Keys()
}

func (c *Cache) touch(name string) {
	c.recent.Add(c.cacheForm(name), time.Now().UTC())
}

// CleanupTemp deletes any leftover "*.tmp" file in the cache directory, the
// garbage collector for saves interrupted by a crash or restart.
func (c *Cache) CleanupTemp() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.tmp"))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, "enumerating cache directory for cleanup", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("removing stale temp file %q", m), err)
		}
	}
	return nil
}

func (c *Cache) cacheForm(name string) string {
	return names.ToCacheName(name)
}

func (c *Cache) artifactPath(name, imageType string) string {
	return filepath.Join(c.dir, c.cacheForm(name)+"."+imageType)
}

func (c *Cache) metaPath(name string) string {
	return filepath.Join(c.dir, c.cacheForm(name)+".meta.json")
}

// Save writes bytes and its metadata atomically, appends a Change History
// entry, and returns the persisted Metadata.
func (c *Cache) Save(name string, data []byte, contentType, imageType, trigger string, generationDuration float64) (*Metadata, error) {
	sum := fingerprint.Of(data)

	if err := atomicWrite(c.artifactPath(name, imageType), data); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("saving artifact %q", name), err)
	}

	meta := &Metadata{
		Name:               name,
		CRC32:              sum,
		ContentType:        contentType,
		ImageType:          imageType,
		Size:               len(data),
		Trigger:            trigger,
		GenerationDuration: generationDuration,
		GeneratedAt:        time.Now().UTC(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("marshaling metadata for %q", name), err)
	}
	if err := atomicWrite(c.metaPath(name), metaBytes); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, fmt.Sprintf("saving metadata for %q", name), err)
	}

	if c.history != nil {
		c.history.Append(name, sum, trigger, generationDuration)
	}
	c.touch(name)

	return meta, nil
}

// Load returns the cached bytes and metadata (which carries the content
// type) for name, or ok=false if either file is missing or the metadata is
// unparseable.
func (c *Cache) Load(name, imageType string) (data []byte, meta *Metadata, ok bool) {
	m, ok := c.Metadata(name)
	if !ok {
		return nil, nil, false
	}
	bytes, err := os.ReadFile(c.artifactPath(name, imageType))
	if err != nil {
		return nil, nil, false
	}
	c.touch(name)
	return bytes, m, true
}

// Metadata returns just the sidecar record for name, or ok=false if it is
// missing or unparseable.
func (c *Cache) Metadata(name string) (*Metadata, bool) {
	raw, err := os.ReadFile(c.metaPath(name))
	if err != nil {
		return nil, false
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return &m, true
}

// atomicWrite writes data to path via a sibling ".tmp" file, fsyncs it, and
// renames it over path so concurrent readers never observe a torn write.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
