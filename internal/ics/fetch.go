package ics

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	appLog "calreport/internal/log"
)

const (
	defaultCacheDir = "./cache/ics-cache"
	fetchTimeout    = 15 * time.Second
)

// Source is one configured ICS feed.
type Source struct {
	ID string
	// URL is fetched over HTTP(S); file:// URLs and bare paths are read
	// from disk.
	URL string

	// Team and Project fill events without X-TEAM / X-PROJECT.
	Team    string
	Project string
}

// Feed is the payload obtained for a Source.
type Feed struct {
	Source Source
	Body   []byte
	// Cached is set when Body came from the disk cache rather than the origin.
	Cached bool
}

// Fetcher downloads feeds, revalidating them against a disk cache and
// serving the cached copy when the origin is unreachable.
type Fetcher struct {
	client *http.Client
	cache  diskCache
}

func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	return &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
		cache:  diskCache{dir: cacheDir},
	}
}

// FetchAll fetches every source in order. Failed sources are logged, left
// out of the feeds and reported in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Feed, []error) {
	feeds := make([]Feed, 0, len(sources))
	var errs []error
	for _, src := range sources {
		feed, err := f.Fetch(ctx, src)
		if err != nil {
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
			errs = append(errs, err)
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds, errs
}

// Fetch returns the current body of src, sending the cached ETag and
// Last-Modified so an unchanged feed costs a 304.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Feed, error) {
	if src.URL == "" {
		return Feed{}, goerr.New("source URL is empty", goerr.V("id", src.ID))
	}
	if path, ok := localPath(src.URL); ok {
		body, err := os.ReadFile(path)
		if err != nil {
			return Feed{}, goerr.Wrap(err, "failed to read local ICS file", goerr.V("id", src.ID), goerr.V("path", path))
		}
		return Feed{Source: src, Body: body}, nil
	}

	key := cacheKey(src.URL)
	prev, cached := f.cache.load(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Feed{}, goerr.Wrap(err, "invalid ICS URL", goerr.V("id", src.ID), goerr.V("url", redactURL(src.URL)))
	}
	prev.apply(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return f.fallback(src, cached, goerr.Wrap(err, "ICS request failed", goerr.V("id", src.ID), goerr.V("url", redactURL(src.URL))))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		if cached == nil {
			return Feed{}, goerr.New("304 Not Modified without a cached body", goerr.V("id", src.ID))
		}
		appLog.Debug("ics feed not modified", "id", src.ID, "url", redactURL(src.URL))
		return Feed{Source: src, Body: cached, Cached: true}, nil
	default:
		return f.fallback(src, cached, goerr.New("unexpected HTTP status", goerr.V("id", src.ID), goerr.V("status", resp.Status)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return f.fallback(src, cached, goerr.Wrap(err, "failed to read ICS body", goerr.V("id", src.ID)))
	}

	next := validators{
		URL:          src.URL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	if err := f.cache.store(key, next, body); err != nil {
		appLog.Warn("ics cache write failed", "id", src.ID, "error", err.Error())
	}

	appLog.Info("ics feed fetched", "id", src.ID, "url", redactURL(src.URL), "bytes", len(body))
	return Feed{Source: src, Body: body}, nil
}

func (f *Fetcher) fallback(src Source, cached []byte, cause error) (Feed, error) {
	if cached == nil {
		return Feed{}, cause
	}
	appLog.Error("ics fetch failed, serving cached copy", cause, "id", src.ID, "url", redactURL(src.URL))
	return Feed{Source: src, Body: cached, Cached: true}, nil
}

// localPath reports whether rawURL points at a file on disk.
func localPath(rawURL string) (string, bool) {
	if p, ok := strings.CutPrefix(rawURL, "file://"); ok {
		return p, true
	}
	if !strings.Contains(rawURL, "://") {
		return rawURL, true
	}
	return "", false
}

// redactURL keeps only scheme and host; feed URLs often embed tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
