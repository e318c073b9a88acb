// Package docproxy implements the Documentation Proxy (spec §4.10): a
// cached, retrying facade over a remote documentation service, and the
// concrete ExternalResolver that contributes the "ctx7." tool prefix to the
// Tool Registry (SPEC_FULL.md §C).
package docproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/cache"
	"github.com/snapback-ai/coprocessor/mcp"
	"github.com/snapback-ai/coprocessor/toolregistry"
)

// cacheClass distinguishes the two cache-entry kinds spec §3 names.
type cacheClass string

const (
	classSearch cacheClass = "search"
	classDocs   cacheClass = "docs"
)

// LibraryMatch is one candidate returned by resolveLibraryId.
type LibraryMatch struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DocsResult is getLibraryDocs's response.
type DocsResult struct {
	Content string `json:"content"`
}

// Config configures the Proxy.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// SearchTTL/DocsTTL default to 1h/24h respectively (spec §3); a
	// negative or NaN-equivalent zero value also falls back to the default.
	SearchTTL time.Duration
	DocsTTL   time.Duration
	// CacheCapacity bounds both caches; defaults to 500 (SPEC_FULL.md §C).
	CacheCapacity int
}

// Proxy is the Documentation Proxy.
type Proxy struct {
	cfg         Config
	http        *http.Client
	searchCache *cache.TTLCache[string, []LibraryMatch]
	docsCache   *cache.TTLCache[string, DocsResult]
}

// New constructs a Proxy; unset Config fields take spec-named defaults.
func New(cfg Config) *Proxy {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = time.Hour
	}
	if cfg.DocsTTL <= 0 {
		cfg.DocsTTL = 24 * time.Hour
	}
	capacity := cfg.CacheCapacity
	if capacity <= 0 {
		capacity = 500
	}

	return &Proxy{
		cfg:         cfg,
		http:        cfg.HTTPClient,
		searchCache: cache.New[string, []LibraryMatch](capacity, cfg.SearchTTL),
		docsCache:   cache.New[string, DocsResult](capacity, cfg.DocsTTL),
	}
}

// abortStatuses are response codes the retry policy must not retry (spec
// §4.10): the request is well-formed but the answer won't change on retry.
var abortStatuses = map[int]bool{401: true, 403: true, 404: true, 429: true}

// nonRetryableHTTPError wraps an abort-status response so the retry loop
// can distinguish it from a transient 5xx.
type nonRetryableHTTPError struct{ status int }

func (e *nonRetryableHTTPError) Error() string {
	return fmt.Sprintf("documentation service returned status %d", e.status)
}

// ResolveLibraryID resolves a library name to candidate documentation-service
// identifiers, consulting the search cache first (spec §4.10).
func (p *Proxy) ResolveLibraryID(ctx context.Context, libraryName string) ([]LibraryMatch, error) {
	key := searchCacheKey(libraryName)
	if cached, ok := p.searchCache.Get(key); ok {
		return cached, nil
	}

	matches, err := fetchWithRetry(ctx, p.http, p.cfg.BaseURL+"/v1/search?query="+url.QueryEscape(libraryName), p.cfg.APIKey, func(body []byte) ([]LibraryMatch, error) {
		var out []LibraryMatch
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	// A cache-write failure never fails the call (spec §4.10); TTLCache.Set
	// cannot fail, so this is purely belt-and-suspenders documentation of
	// that contract.
	p.searchCache.Set(key, matches)
	return matches, nil
}

// GetLibraryDocsOptions is getLibraryDocs's optional argument set.
type GetLibraryDocsOptions struct {
	Topic  string
	Tokens int
}

// GetLibraryDocs fetches documentation for a resolved library id, consulting
// the docs cache first under a key that incorporates topic and tokens.
func (p *Proxy) GetLibraryDocs(ctx context.Context, libraryID string, opts GetLibraryDocsOptions) (DocsResult, error) {
	key := docsCacheKey(libraryID, opts)
	if cached, ok := p.docsCache.Get(key); ok {
		return cached, nil
	}

	q := url.Values{}
	q.Set("libraryId", libraryID)
	if opts.Topic != "" {
		q.Set("topic", opts.Topic)
	}
	if opts.Tokens > 0 {
		q.Set("tokens", strconv.Itoa(opts.Tokens))
	}

	result, err := fetchWithRetry(ctx, p.http, p.cfg.BaseURL+"/v1/docs?"+q.Encode(), p.cfg.APIKey, func(body []byte) (DocsResult, error) {
		var out DocsResult
		if err := json.Unmarshal(body, &out); err != nil {
			return DocsResult{}, err
		}
		return out, nil
	})
	if err != nil {
		return DocsResult{}, err
	}

	p.docsCache.Set(key, result)
	return result, nil
}

// searchCacheKey and docsCacheKey build spec §3's
// "class:encoded-query[:topic][:tokens]" cache key shape.
func searchCacheKey(libraryName string) string {
	return string(classSearch) + ":" + url.QueryEscape(libraryName)
}

func docsCacheKey(libraryID string, opts GetLibraryDocsOptions) string {
	key := string(classDocs) + ":" + url.QueryEscape(libraryID)
	if opts.Topic != "" {
		key += ":" + url.QueryEscape(opts.Topic)
	}
	if opts.Tokens > 0 {
		key += ":" + strconv.Itoa(opts.Tokens)
	}
	return key
}

// fetchWithRetry performs an authenticated GET with spec §4.10's retry
// policy: ≤3 attempts, exponential backoff base 1s, max 10s, jitter; abort
// immediately on 401/403/404/429; retry on 5xx.
func fetchWithRetry[T any](ctx context.Context, client *http.Client, target, apiKey string, parse func([]byte) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxInterval = 10 * time.Second
	bo.RandomizationFactor = 0.2

	return backoff.Retry(ctx, func() (T, error) {
		var zero T

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}

		resp, err := client.Do(req)
		if err != nil {
			return zero, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return zero, err
		}

		if abortStatuses[resp.StatusCode] {
			return zero, backoff.Permanent(&nonRetryableHTTPError{status: resp.StatusCode})
		}
		if resp.StatusCode >= 500 {
			return zero, fmt.Errorf("documentation service returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return zero, backoff.Permanent(&nonRetryableHTTPError{status: resp.StatusCode})
		}

		return parse(body)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
}

// Prefix and ListTools make Proxy an ExternalResolver for the Tool Registry
// (SPEC_FULL.md §C): the "ctx7." prefix is served by this component rather
// than a static catalog entry.
func (p *Proxy) Prefix() string { return "ctx7." }

func (p *Proxy) ListTools() ([]toolregistry.Descriptor, error) {
	return []toolregistry.Descriptor{
		{
			Name:        "ctx7.resolve-library-id",
			Description: "Resolves a library name to a documentation-service compatible identifier.",
			MinTier:     auth.TierFree,
			InputSchema: mcp.ToolInputSchema{
				Type:     "object",
				Required: []string{"libraryName"},
				Properties: map[string]mcp.SchemaProperty{
					"libraryName": {Type: "string", MaxLength: 4096},
				},
			},
		},
		{
			Name:        "ctx7.get-library-docs",
			Description: "Fetches documentation for a resolved library identifier.",
			MinTier:     auth.TierFree,
			InputSchema: mcp.ToolInputSchema{
				Type:     "object",
				Required: []string{"context7CompatibleLibraryID"},
				Properties: map[string]mcp.SchemaProperty{
					"context7CompatibleLibraryID": {Type: "string", MaxLength: 4096},
					"topic":                       {Type: "string", MaxLength: 1024},
					"tokens":                      {Type: "integer"},
				},
			},
		},
	}, nil
}
