package source

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matzehuels/depot/pkg/cache"
	"github.com/matzehuels/depot/pkg/errors"
	"github.com/matzehuels/depot/pkg/httputil"
)

// archiveContentTypes are the response content types accepted for archive
// downloads. Providers disagree on the exact type they declare for zips.
var archiveContentTypes = []string{
	"application/zip",
	"application/octet-stream",
	"application/x-zip-compressed",
}

// Transport provides shared HTTP functionality for all provider clients:
// default headers, retry with backoff for transient failures, response
// caching for list endpoints, and provider-agnostic status mapping.
type Transport struct {
	http    *http.Client
	cache   cache.Cache
	ttl     time.Duration
	prefix  string // cache key prefix, e.g. "gitea:"
	headers map[string]string
}

// NewTransport creates a Transport. Headers are applied to every request;
// pass the provider's auth header here so callers never see the scheme.
// Pass a NullCache to disable response caching.
func NewTransport(c cache.Cache, prefix string, ttl time.Duration, headers map[string]string) *Transport {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Transport{
		http:    httputil.NewClient(),
		cache:   c,
		ttl:     ttl,
		prefix:  prefix,
		headers: headers,
	}
}

// GetJSON performs a GET request and decodes the JSON response into v,
// retrying transient failures. A literal JSON null body is a protocol
// error, never an empty result: providers answer list endpoints with null
// when the resource state is inconsistent, and conflating that with an
// empty list would silently drop data.
func (t *Transport) GetJSON(ctx context.Context, url string, v any) error {
	var body []byte
	err := httputil.RetryWithBackoff(ctx, func() error {
		var err error
		body, err = t.get(ctx, url)
		return err
	})
	if err != nil {
		return err
	}
	return decodeJSON(body, url, v)
}

// GetJSONCached is GetJSON with response caching keyed on the request URL.
// Only successful responses are cached.
func (t *Transport) GetJSONCached(ctx context.Context, url string, v any) error {
	key := t.prefix + cache.Hash([]byte(url))

	if data, ok, _ := t.cache.Get(ctx, key); ok {
		if decodeJSON(data, url, v) == nil {
			return nil
		}
		// Corrupt cache entry; fall through to a fresh fetch.
		_ = t.cache.Delete(ctx, key)
	}

	var body []byte
	err := httputil.RetryWithBackoff(ctx, func() error {
		var err error
		body, err = t.get(ctx, url)
		return err
	})
	if err != nil {
		return err
	}
	if err := decodeJSON(body, url, v); err != nil {
		return err
	}
	_ = t.cache.Set(ctx, key, body, t.ttl)
	return nil
}

// PostJSON performs a POST request with a JSON body. The response body is
// discarded; only the status matters.
func (t *Transport) PostJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encoding request body")
	}

	return httputil.RetryWithBackoff(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "building request")
		}
		t.setHeaders(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.http.Do(req)
		if err != nil {
			return httputil.Retryable(errors.Wrap(errors.ErrCodeUpstreamUnavailable, err, "POST %s", url))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		return mapStatus(resp.StatusCode, url)
	})
}

// FetchArchive retrieves raw archive bytes with the transport's auth
// headers. Transport failures and non-2xx statuses map to
// ARCHIVE_FETCH_FAILED; a response that does not declare an archive
// content type maps to ARCHIVE_INVALID_CONTENT_TYPE.
func (t *Transport) FetchArchive(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "building request")
	}
	t.setHeaders(req)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveFetch, err, "GET %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(errors.ErrCodeArchiveFetch, "GET %s: status %d", url, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !isArchiveContentType(ct) {
		return nil, errors.New(errors.ErrCodeArchiveContentType, "unexpected content type %q", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeArchiveFetch, err, "reading archive body")
	}
	return data, nil
}

func (t *Transport) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "building request")
	}
	t.setHeaders(req)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, httputil.Retryable(errors.Wrap(errors.ErrCodeUpstreamUnavailable, err, "GET %s", url))
	}
	defer resp.Body.Close()

	if err := mapStatus(resp.StatusCode, url); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httputil.Retryable(errors.Wrap(errors.ErrCodeUpstreamUnavailable, err, "reading response body"))
	}
	return body, nil
}

func (t *Transport) setHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

// mapStatus translates provider status semantics into the shared error
// taxonomy. 5xx responses are wrapped retryable; auth failures are not.
func mapStatus(code int, url string) error {
	switch {
	case code >= 200 && code <= 299:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.New(errors.ErrCodeUpstreamAuth, "GET %s: status %d", url, code)
	case code >= 500:
		return httputil.Retryable(errors.New(errors.ErrCodeUpstreamUnavailable, "%s: status %d", url, code))
	default:
		return errors.New(errors.ErrCodeUpstreamProtocol, "%s: unexpected status %d", url, code)
	}
}

func decodeJSON(body []byte, url string, v any) error {
	if isNullBody(body) {
		return errors.New(errors.ErrCodeUpstreamProtocol, "%s: null response body", url)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Wrap(errors.ErrCodeUpstreamProtocol, err, "%s: malformed response", url)
	}
	return nil
}

func isNullBody(body []byte) bool {
	return len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}

func isArchiveContentType(ct string) bool {
	for _, want := range archiveContentTypes {
		if ct == want || strings.HasPrefix(ct, want+";") {
			return true
		}
	}
	return false
}

// JoinURL concatenates a base URL and a path, normalizing slashes.
// Provider subpackages use it to build endpoint URLs.
func JoinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}
