// Package config loads and validates the coprocessor's process
// configuration from the environment (spec §6), grounded on the teacher's
// envdecode-with-struct-tag-defaults pattern (sessions/redishost).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/snapback-ai/coprocessor/auth"
)

// Config is the full set of environment-derived settings this process
// reads at startup. Every field maps to an env var named in spec §6.
type Config struct {
	// Development toggles development mode: relaxed auth-key shape checks,
	// permissive CORS ("*"), and verbose (non-sanitized) error messages.
	Development bool `env:"COPROCESSOR_DEV,default=false"`

	// WorkspaceRoot confines every path-validated file operation (spec
	// §4.5). Defaults to the process's working directory.
	WorkspaceRoot string `env:"COPROCESSOR_WORKSPACE_ROOT"`

	// Upstream analysis service (spec §4.7/§4.8).
	UpstreamBaseURL string        `env:"UPSTREAM_ANALYSIS_BASE_URL"`
	UpstreamAPIKey  string        `env:"UPSTREAM_ANALYSIS_API_KEY"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_ANALYSIS_TIMEOUT,default=10s"`

	// Documentation proxy (spec §4.10).
	DocServiceBaseURL string        `env:"DOC_SERVICE_BASE_URL,default=https://api.context7.com"`
	DocServiceAPIKey  string        `env:"DOC_SERVICE_API_KEY"`
	DocSearchCacheTTL time.Duration `env:"DOC_SEARCH_CACHE_TTL,default=1h"`
	DocDocsCacheTTL   time.Duration `env:"DOC_DOCS_CACHE_TTL,default=24h"`

	// HTTP+SSE transport (spec §4.2).
	HTTPAddr        string        `env:"COPROCESSOR_HTTP_ADDR,default=:8080"`
	RateLimitWindow time.Duration `env:"COPROCESSOR_RATE_LIMIT_WINDOW,default=1m"`
	RateLimitCap    int           `env:"COPROCESSOR_RATE_LIMIT_CAP,default=100"`
	MaxBodyBytes    int64         `env:"COPROCESSOR_MAX_BODY_BYTES,default=4194304"`

	// CORSOrigins is the raw comma-separated origin list; use CORSAllowList
	// for the parsed form.
	CORSOrigins string `env:"COPROCESSOR_CORS_ALLOW_LIST"`

	// Auth (spec §4.3). AuthIssuerURL configures the production bearer-JWT
	// verifier (OIDC discovery); empty in development, where a static dev
	// key verifier is used instead.
	AuthPlanClaim string `env:"COPROCESSOR_AUTH_PLAN_CLAIM,default=plan"`
	AuthIssuerURL string `env:"COPROCESSOR_AUTH_ISSUER_URL"`
	AuthAudience  string `env:"COPROCESSOR_AUTH_AUDIENCE"`

	// AuthJWKSURL, when set, skips OIDC discovery and verifies bearer tokens
	// against a statically configured JWKS endpoint instead — for identity
	// providers that don't publish a discovery document.
	AuthJWKSURL string `env:"COPROCESSOR_AUTH_JWKS_URL"`

	// Redis-backed session broker; empty RedisAddr keeps the in-memory
	// broker (spec §4.1's single-process default).
	RedisAddr string `env:"REDIS_ADDR"`

	// Persistent state layout (spec §6): a workspace-local directory
	// holding the snapshot metadata store and its content-addressed blob
	// directory.
	StateDir string `env:"COPROCESSOR_STATE_DIR,default=.snapback"`

	// VulnDBPath is the offline vulnerability-advisory fixture consulted by
	// the dependency hygiene detector and the dependency-change analyzer
	// (spec §4.8: "explicit fixture path").
	VulnDBPath string `env:"COPROCESSOR_VULNDB_PATH,default=vulndb.yaml"`

	// CORSAllowList is the parsed, trimmed form of CORSOrigins, populated
	// by Load. Empty means no cross-origin access is permitted.
	CORSAllowList []string `json:"-"`
}

// Load reads and validates configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		// envdecode.Decode returns an error when no env vars matched any
		// tag at all; every field here carries a default, so Decode never
		// legitimately fails, but guard against a genuinely malformed
		// override (e.g. COPROCESSOR_MAX_BODY_BYTES=notanumber).
		return nil, fmt.Errorf("config: decode environment: %w", err)
	}

	if cfg.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: resolve working directory: %w", err)
		}
		cfg.WorkspaceRoot = wd
	}

	cfg.CORSAllowList = parseCORSOrigins(cfg.CORSOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidationError reports a single configuration field that failed
// startup validation. cmd/coprocessor maps its presence to exit code 1.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// parseCORSOrigins splits and trims a comma-separated origin list.
func parseCORSOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	if info, err := os.Stat(c.WorkspaceRoot); err != nil || !info.IsDir() {
		return &ValidationError{Field: "COPROCESSOR_WORKSPACE_ROOT", Reason: "must be an existing directory"}
	}

	if !c.Development {
		if c.UpstreamBaseURL == "" {
			return &ValidationError{Field: "UPSTREAM_ANALYSIS_BASE_URL", Reason: "required in production"}
		}
		if _, err := url.ParseRequestURI(c.UpstreamBaseURL); err != nil {
			return &ValidationError{Field: "UPSTREAM_ANALYSIS_BASE_URL", Reason: "must be a valid URL"}
		}
	}

	if err := auth.ValidateKeyShape(c.UpstreamAPIKey, c.Development); err != nil {
		return &ValidationError{Field: "UPSTREAM_ANALYSIS_API_KEY", Reason: err.Error()}
	}

	if !c.Development && c.AuthIssuerURL == "" {
		return &ValidationError{Field: "COPROCESSOR_AUTH_ISSUER_URL", Reason: "required in production"}
	}

	if len(c.CORSAllowList) == 1 && c.CORSAllowList[0] == "*" && !c.Development {
		return &ValidationError{Field: "COPROCESSOR_CORS_ALLOW_LIST", Reason: "wildcard origin is only permitted in development"}
	}

	if c.RateLimitCap <= 0 {
		return &ValidationError{Field: "COPROCESSOR_RATE_LIMIT_CAP", Reason: "must be positive"}
	}
	if c.MaxBodyBytes <= 0 {
		return &ValidationError{Field: "COPROCESSOR_MAX_BODY_BYTES", Reason: "must be positive"}
	}

	return nil
}

// SnapshotDBPath is the workspace-relative path to the snapshot metadata
// file within StateDir.
func (c *Config) SnapshotDBPath() string {
	return c.StateDir + "/snapshots.json"
}

// BlobDir is the workspace-relative directory holding content-addressed
// snapshot blobs, keyed by digest.
func (c *Config) BlobDir() string {
	return c.StateDir + "/blobs"
}
