package auth

import (
	"context"
	"fmt"

	"github.com/snapback-ai/coprocessor/internal/jwtauth"
)

// JWTVerifier adapts internal/jwtauth's bearer-token Authenticator to the
// Verifier contract. It is the one concrete, production-facing
// implementation of the external identity-verification contract spec §1
// treats as out of scope.
type JWTVerifier struct {
	authenticator jwtauth.Authenticator
	// planClaim is the claim name carrying the caller's plan/tier label.
	// Defaults to "plan".
	planClaim string
}

// NewJWTVerifier wraps an already-constructed jwtauth.Authenticator (either
// NewFromDiscovery or NewStatic).
func NewJWTVerifier(authenticator jwtauth.Authenticator, planClaim string) *JWTVerifier {
	if planClaim == "" {
		planClaim = "plan"
	}
	return &JWTVerifier{authenticator: authenticator, planClaim: planClaim}
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(ctx context.Context, rawKey string) (Identity, error) {
	info, err := v.authenticator.CheckAuthentication(ctx, rawKey)
	if err != nil {
		return Identity{}, fmt.Errorf("jwt verification failed: %w", err)
	}

	var claims struct {
		Plan  string `json:"plan"`
		OrgID string `json:"org_id"`
		Scope string `json:"scope"`
	}
	_ = info.Claims(&claims)

	perms := map[string]bool{}
	for _, p := range splitFields(claims.Scope) {
		perms[p] = true
	}

	return Identity{
		UserID:      info.UserID(),
		OrgID:       claims.OrgID,
		Permissions: perms,
		PlanTier:    claims.Plan,
	}, nil
}

func splitFields(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

// StaticKeyVerifier is a development-mode Verifier that trusts any
// non-empty raw key and assigns a fixed tier, grounded on spec §4.3's
// requirement that development mode allow an empty key. Never use in
// production: ValidateKeyShape enforces that this code path is unreachable
// once development mode is off.
type StaticKeyVerifier struct {
	Tier Tier
}

// Verify implements Verifier.
func (v *StaticKeyVerifier) Verify(ctx context.Context, rawKey string) (Identity, error) {
	tier := v.Tier
	if tier == "" {
		tier = TierAdmin
	}
	return Identity{
		UserID:   "dev-user",
		PlanTier: string(tier),
	}, nil
}
