// Package auxfetch implements the Auxiliary Fetcher: a disk-backed,
// stale-while-revalidate cache for arbitrary JSON endpoints referenced by a
// configuration's extraDataUrl, so a slow upstream never blocks generation.
package auxfetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/timeline"
)

const (
	fetchTimeout = 5 * time.Second
	userAgent    = "calendar2image-fetcher/1.0"
)

// Request describes one fetch.
type Request struct {
	URL        string
	CacheTTL   time.Duration
	Headers    map[string]string
	ConfigName string
}

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fetcher fetches and caches auxiliary JSON documents under a single
// directory, refreshing stale entries in the background.
type Fetcher struct {
	dir      string
	client   *http.Client
	timeout  time.Duration
	log      *slog.Logger
	timeline *timeline.Log
	metrics  *metrics.Registry

	mu       sync.Mutex
	inFlight map[string]bool
	limiters map[string]*rate.Limiter
}

// New returns a Fetcher rooted at dir, logging background-refresh failures
// as timeline events through tl. mr may be nil, in which case results are
// not recorded as metrics.
func New(dir string, tl *timeline.Log, mr *metrics.Registry, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		dir:      dir,
		client:   &http.Client{Timeout: fetchTimeout},
		timeout:  fetchTimeout,
		log:      log,
		timeline: tl,
		metrics:  mr,
		inFlight: make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetTimeout overrides the per-request timeout. Zero or negative values are
// ignored. Call before the first Fetch.
func (f *Fetcher) SetTimeout(t time.Duration) {
	if t > 0 {
		f.timeout = t
		f.client.Timeout = t
	}
}

func (f *Fetcher) recordResult(result string) {
	if f.metrics != nil {
		f.metrics.FetchCacheHitsTotal.WithLabelValues(result).Inc()
	}
}

// Fetch returns the cached value for req, synchronously fetching if no
// entry exists, or triggering a background refresh if the entry is stale.
// Errors never propagate: a failing fetch yields an empty object.
func (f *Fetcher) Fetch(ctx context.Context, req Request) json.RawMessage {
	key := cacheKey(req.URL, req.Headers)
	path := f.entryPath(key)

	existing, ok := f.readEntry(path)
	if !ok {
		f.recordResult("miss")
		data := f.fetchNow(ctx, req)
		f.writeEntry(path, data)
		return data
	}

	age := time.Since(existing.Timestamp)
	if age < req.CacheTTL {
		f.recordResult("fresh")
		return existing.Data
	}

	f.recordResult("stale")
	f.maybeRefreshInBackground(req, path)
	return existing.Data
}

func (f *Fetcher) fetchNow(ctx context.Context, req Request) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := f.doRequest(ctx, req)
	if err != nil {
		f.logError(req, err)
		return json.RawMessage(`{}`)
	}
	return body
}

func (f *Fetcher) doRequest(ctx context.Context, req Request) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var parsed json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response as JSON: %w", err)
	}
	return parsed, nil
}

// maybeRefreshInBackground spawns a background refresh for req unless one
// for the same key is already in flight, rate-limited per host to avoid a
// thundering herd against one upstream.
func (f *Fetcher) maybeRefreshInBackground(req Request, path string) {
	key := cacheKey(req.URL, req.Headers)

	f.mu.Lock()
	if f.inFlight[key] {
		f.mu.Unlock()
		return
	}
	f.inFlight[key] = true
	limiter := f.limiterFor(req.URL)
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.FetchRefreshInFlight.Inc()
	}

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.inFlight, key)
			f.mu.Unlock()
			if f.metrics != nil {
				f.metrics.FetchRefreshInFlight.Dec()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		defer cancel()

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		body, err := f.doRequest(ctx, req)
		if err != nil {
			f.logError(req, err)
			return
		}
		f.writeEntry(path, body)
	}()
}

func (f *Fetcher) limiterFor(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	if l, ok := f.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(time.Second), 1)
	f.limiters[host] = l
	return l
}

func (f *Fetcher) logError(req Request, err error) {
	f.log.Warn("auxiliary fetch failed", "url", req.URL, "error", err)
	if f.timeline != nil && req.ConfigName != "" {
		f.timeline.Append(req.ConfigName, timeline.EventExtraData, "error", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
	}
}

func (f *Fetcher) entryPath(key string) string {
	return filepath.Join(f.dir, "extradata-"+key+".json")
}

func (f *Fetcher) readEntry(path string) (entry, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entry{}, false
	}
	return e, true
}

func (f *Fetcher) writeEntry(path string, data json.RawMessage) {
	e := entry{Data: data, Timestamp: time.Now().UTC()}
	bytes, err := json.Marshal(e)
	if err != nil {
		return
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

// cacheKey hashes the URL plus the sorted header set, so the same endpoint
// fetched with different credentials caches separately.
// MD5 is used only as a non-cryptographic addressing scheme.
func cacheKey(rawURL string, headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(headers[k])
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
