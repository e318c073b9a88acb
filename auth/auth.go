// Package auth implements the Auth Resolver: it verifies caller credentials
// through an external, pluggable verification contract, maps the verified
// identity onto a tier, and caches the result under a bounded TTL so the
// verifier is called at most once per distinct key per TTL window.
package auth

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/snapback-ai/coprocessor/cache"
)

// Tier is a capability bucket assigned to an authenticated caller.
type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierAdmin Tier = "admin"
)

// Result is the outcome of authenticating a raw credential.
type Result struct {
	Valid bool
	Tier  Tier
	// Permissions is the set of permission strings granted to the caller,
	// as reported by the verifier.
	Permissions map[string]bool
	UserID      string
	OrgID       string
	// Error carries a human-safe reason when Valid is false.
	Error string
}

// Identity is what an external verifier returns on successful verification;
// the Resolver maps it onto a Tier via a single deterministic function.
type Identity struct {
	UserID      string
	OrgID       string
	Permissions map[string]bool
	// PlanTier is the raw plan/tier label reported by the identity service
	// (e.g. "free", "pro", "enterprise", "staff"); mapped via TierFor.
	PlanTier string
}

// Verifier is the external identity-verification contract. Implementations
// must not block indefinitely; the Resolver treats any error as a failed
// verification, never as a crash.
type Verifier interface {
	Verify(ctx context.Context, rawKey string) (Identity, error)
}

// TierFor maps a verifier-reported plan label onto this system's tier
// model. This is the single deterministic mapping function spec §4.3
// requires; unknown labels default to the most restrictive tier.
func TierFor(planTier string) Tier {
	switch planTier {
	case "admin", "staff", "owner":
		return TierAdmin
	case "pro", "enterprise", "team":
		return TierPro
	default:
		return TierFree
	}
}

// keyPattern is the production key-shape requirement of spec §4.3: at least
// 32 characters, restricted to URL-safe token characters.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{32,}$`)

// ErrWeakKey is returned by ValidateKeyShape when a raw key fails the
// production key-shape requirement.
var ErrWeakKey = errors.New("auth: key does not meet production strength requirements")

// ValidateKeyShape enforces spec §4.3's startup validation: in development
// an empty key is allowed, in production the key must be at least 32
// characters matching [A-Za-z0-9_-]+. Callers run this once at startup
// against configured credentials, failing fast on violation.
func ValidateKeyShape(key string, development bool) error {
	if development && key == "" {
		return nil
	}
	if !keyPattern.MatchString(key) {
		return ErrWeakKey
	}
	return nil
}

// Resolver is the Auth Resolver: authenticate() plus hasToolAccess().
type Resolver struct {
	verifier Verifier
	cache    *cache.TTLCache[string, Result]
}

// Option configures a Resolver.
type Option func(*resolverConfig)

type resolverConfig struct {
	capacity int
	ttl      time.Duration
}

// WithCacheCapacity overrides the bounded cache's entry limit (default 1000,
// per spec §3).
func WithCacheCapacity(n int) Option {
	return func(c *resolverConfig) { c.capacity = n }
}

// WithCacheTTL overrides the cache entry lifetime (default 60s, per spec §3).
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *resolverConfig) { c.ttl = ttl }
}

// NewResolver constructs a Resolver backed by verifier.
func NewResolver(verifier Verifier, opts ...Option) *Resolver {
	cfg := &resolverConfig{capacity: 1000, ttl: 60 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Resolver{
		verifier: verifier,
		cache:    cache.New[string, Result](cfg.capacity, cfg.ttl),
	}
}

// Authenticate resolves rawKey to a Result, consulting the cache first. A
// verifier error never propagates to the caller: it is mapped to an
// explicit invalid result instead, per spec §4.3 ("never throw").
func (r *Resolver) Authenticate(ctx context.Context, rawKey string) Result {
	if res, ok := r.cache.Get(rawKey); ok {
		return res
	}

	identity, err := r.verifier.Verify(ctx, rawKey)
	var result Result
	if err != nil {
		result = Result{
			Valid: false,
			Tier:  TierFree,
			Error: "authentication service unavailable",
		}
	} else {
		result = Result{
			Valid:       true,
			Tier:        TierFor(identity.PlanTier),
			Permissions: identity.Permissions,
			UserID:      identity.UserID,
			OrgID:       identity.OrgID,
		}
	}

	r.cache.Set(rawKey, result)
	return result
}

// requiredTier is the static tool-name → minimum-tier table referenced by
// hasToolAccess. Kept alongside the tool registry per spec §4.3; populated
// by toolregistry at startup via RegisterTool.
var tierRank = map[Tier]int{TierFree: 0, TierPro: 1, TierAdmin: 2}

// HasToolAccess reports whether result's tier meets minTier. Tools absent
// from the static table (minTier == "") are open to any valid principal.
func HasToolAccess(result Result, minTier Tier) bool {
	if !result.Valid {
		return false
	}
	if minTier == "" {
		return true
	}
	return tierRank[result.Tier] >= tierRank[minTier]
}
