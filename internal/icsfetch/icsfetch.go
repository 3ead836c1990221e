// Package icsfetch fetches and parses the calendar feeds referenced by a
// configuration's icsUrl, the rendering collaborator's event source. Fetch
// failures are retried with backoff, the same resilience pattern the
// Auxiliary Fetcher's upstream calls would use for a transient network blip.
package icsfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/calendar2image/c2i-service/internal/metrics"
	"github.com/calendar2image/c2i-service/internal/registry"
	"github.com/calendar2image/c2i-service/internal/resilience"
)

const (
	fetchTimeout = 30 * time.Second
	userAgent    = "calendar2image-icsfetch/1.0"
	// maxRedirects bounds how deep a redirect chain is followed; beyond
	// this the client reports a redirect-loop error rather than retrying
	// forever.
	maxRedirects = 10
)

// Event is a single calendar occurrence as parsed from one VEVENT.
// Recurring events are not expanded: an RRULE is ignored and only the
// event's own DTSTART/DTEND occurrence is returned.
type Event struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"allDay"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Fetcher retrieves and parses every ICS source listed in a configuration,
// merging the results into one time-ordered slice.
type Fetcher struct {
	client *http.Client
	// insecure serves sources with rejectUnauthorized=false, which opt out
	// of TLS certificate verification for self-signed calendar hosts.
	insecure *http.Client
	timeout  time.Duration
	log      *slog.Logger
	retry    *metrics.RetryMetrics
}

// SetTimeout overrides the per-URL fetch timeout. Zero or negative values
// are ignored. Call before the first FetchAll.
func (f *Fetcher) SetTimeout(t time.Duration) {
	if t > 0 {
		f.timeout = t
		f.client.Timeout = t
		f.insecure.Timeout = t
	}
}

// New returns a Fetcher. mr may be nil, in which case retry attempts are not
// recorded as metrics.
func New(mr *metrics.Registry, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	var retry *metrics.RetryMetrics
	if mr != nil {
		retry = mr.Retry
	}
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("fetching %s after %d redirects: %w", req.URL, maxRedirects, resilience.ErrRedirectLoop)
		}
		return nil
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:       fetchTimeout,
			CheckRedirect: checkRedirect,
		},
		insecure: &http.Client{
			Timeout:       fetchTimeout,
			CheckRedirect: checkRedirect,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		timeout: fetchTimeout,
		log:     log,
		retry:   retry,
	}
}

// FetchAll fetches every source in cfg.ICSURL in parallel and merges the
// resulting events into one slice ordered by start time. A single source's
// failure is logged and excluded; it does not fail the whole fetch, so a
// generation can still proceed with whatever calendars answered.
func (f *Fetcher) FetchAll(ctx context.Context, cfg *registry.Config) []Event {
	sources := cfg.ICSURL.Sources
	if len(sources) == 0 {
		return nil
	}

	type result struct {
		events []Event
		err    error
	}
	results := make([]result, len(sources))

	done := make(chan int, len(sources))
	for i, src := range sources {
		go func(i int, src registry.ICSSource) {
			events, err := f.fetchOne(ctx, src)
			results[i] = result{events: events, err: err}
			done <- i
		}(i, src)
	}
	for range sources {
		<-done
	}

	var merged []Event
	for i, r := range results {
		if r.err != nil {
			f.log.Warn("ics fetch failed", "url", sources[i].URL, "error", r.err)
			continue
		}
		merged = append(merged, r.events...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })
	return windowFilter(merged, cfg.ExpandRecurringFrom, cfg.ExpandRecurringTo)
}

// windowFilter drops events whose start lies outside [now+fromDays,
// now+toDays], the window a configuration's expandRecurringFrom/
// expandRecurringTo set; both bounds are measured from the current instant,
// not from midnight. A nil bound leaves that side unbounded; an explicit 0
// puts that bound at the current instant. Actual RRULE expansion is not implemented
// (no RRULE-aware calendar library exists anywhere in this project's
// dependency set), so this only bounds the single-occurrence events Parse
// already produced to the configured window.
func windowFilter(events []Event, fromDays, toDays *int) []Event {
	if fromDays == nil && toDays == nil {
		return events
	}
	now := time.Now().UTC()

	filtered := events[:0:0]
	for _, ev := range events {
		if fromDays != nil && ev.Start.Before(now.AddDate(0, 0, *fromDays)) {
			continue
		}
		if toDays != nil && ev.Start.After(now.AddDate(0, 0, *toDays)) {
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered
}

func (f *Fetcher) fetchOne(ctx context.Context, src registry.ICSSource) ([]Event, error) {
	policy := resilience.ICSFeedRetryPolicy(f.retry, f.log)

	client := f.client
	if src.RejectUnauthorized != nil && !*src.RejectUnauthorized {
		client = f.insecure
	}

	// One timeout bounds the whole per-URL fetch, retries included.
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	body, err := resilience.WithRetryFunc(ctx, policy, func() ([]byte, error) {
		return f.download(ctx, client, src.URL)
	})
	if err != nil {
		return nil, err
	}

	events := Parse(body)
	sourceName := src.SourceName
	if sourceName == "" {
		sourceName = src.URL
	}
	for i := range events {
		events[i].Source = sourceName
	}
	return events, nil
}

func (f *Fetcher) download(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building ics request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing ics request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ics body: %w", err)
	}
	return body, nil
}
