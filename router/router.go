// Package router implements the Analysis Router: the local-vs-upstream
// decision surface described in spec §4.6, guarded by the feature-flag kill
// switch and the upstream client's circuit breaker.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/snapback-ai/coprocessor/analyzer"
	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/upstream"
)

// upgradeRecommendation is appended to free-tier results per spec §4.6.1.
const upgradeRecommendation = "Upgrade to a Pro subscription to enable upstream ML-backed analysis."

// maxDisplayedIssues caps the issues array returned to a caller (spec §4.5:
// "displayed issue list truncated to 100").
const maxDisplayedIssues = 100

// Severity mirrors the local analyzer's severity vocabulary; it is also the
// merged-result severity exposed to callers via riskLevel.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Issue mirrors upstream.Issue; kept as a distinct type so this package
// doesn't leak the upstream wire shape to callers.
type Issue struct {
	Type     string
	Severity string
	Message  string
	Pattern  string
	Line     *int
}

// Result is the Analysis Router's public output (spec §3 "Analysis Result").
type Result struct {
	RiskLevel       RiskLevel
	Confidence      float64
	Issues          []Issue
	ExecutionTimeMS int64
	UpgradePrompt   bool
	Recommendations []string
}

// FlagSource answers whether a named feature flag is explicitly false. A
// missing flag is not "explicitly false" and therefore doesn't block the
// upstream path (spec §4.6 step 2, SPEC_FULL.md §C).
type FlagSource interface {
	IsExplicitlyFalse(name string) bool
}

// Context carries the per-call routing inputs the router needs beyond the
// code under analysis.
type Context struct {
	Tier     auth.Tier
	FilePath string
	Metadata analyzer.Metadata
}

// UpstreamAnalyzer is the subset of *upstream.Client the router depends on,
// so tests can substitute a fake.
type UpstreamAnalyzer interface {
	Analyze(ctx context.Context, req upstream.AnalyzeRequest) (*upstream.AnalyzeResponse, error)
}

// Router decides, per spec §4.6's decision tree, whether a call is served by
// the local analyzer facade or the upstream client.
type Router struct {
	local    *analyzer.Facade
	upstream UpstreamAnalyzer
	flags    FlagSource
	logger   *slog.Logger
}

// New constructs a Router. upstream and flags may be nil, in which case the
// router always falls back to the local analyzer (spec §4.6 step 3).
func New(local *analyzer.Facade, upstreamClient UpstreamAnalyzer, flags FlagSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{local: local, upstream: upstreamClient, flags: flags, logger: logger}
}

// Analyze implements spec §4.6's decision tree top to bottom, stopping at
// the first match.
func (r *Router) Analyze(ctx context.Context, code string, rctx Context) Result {
	if rctx.Tier == auth.TierFree {
		return r.localResult(code, rctx, true)
	}

	if r.upstream != nil && !r.mlDetectionDisabled() {
		if result, ok := r.tryUpstream(ctx, code, rctx); ok {
			return result
		}
		// Upstream threw; fall back to local but still return success.
	}

	return r.localResult(code, rctx, false)
}

func (r *Router) mlDetectionDisabled() bool {
	return r.flags != nil && r.flags.IsExplicitlyFalse("ml-detection")
}

func (r *Router) tryUpstream(ctx context.Context, code string, rctx Context) (Result, bool) {
	resp, err := r.upstream.Analyze(ctx, upstream.AnalyzeRequest{Code: code})
	if err != nil {
		r.logger.WarnContext(ctx, "upstream analysis failed, falling back to local analyzer", "error", err)
		return Result{}, false
	}
	return mapUpstream(*resp), true
}

func (r *Router) localResult(code string, rctx Context, upgradePrompt bool) Result {
	out := r.local.Analyze(analyzer.Input{Content: code, FilePath: rctx.FilePath, Metadata: rctx.Metadata})

	recs := out.Recommendations
	if upgradePrompt {
		recs = append(append([]string(nil), recs...), upgradeRecommendation)
	}

	return Result{
		RiskLevel:       fromLocalSeverity(out.Severity),
		Confidence:      1,
		Issues:          issuesFromFactors(out),
		UpgradePrompt:   upgradePrompt,
		Recommendations: recs,
	}
}

func fromLocalSeverity(sev analyzer.Severity) RiskLevel {
	switch sev {
	case analyzer.SeverityLow:
		return RiskLow
	case analyzer.SeverityMedium:
		return RiskMedium
	case analyzer.SeverityHigh, analyzer.SeverityCritical:
		return RiskHigh
	default:
		return RiskNone
	}
}

// issuesFromFactors turns a local analyzer result's factor strings into
// Issue records; the facade doesn't emit structured issues, so each factor
// becomes one issue of type "finding" at the facade's merged severity.
func issuesFromFactors(out analyzer.Result) []Issue {
	if len(out.Factors) == 0 {
		return nil
	}
	issues := make([]Issue, 0, len(out.Factors))
	for _, f := range out.Factors {
		issues = append(issues, Issue{Type: classifyFactor(f), Severity: string(out.Severity), Message: f})
	}
	return truncateIssues(issues)
}

// truncateIssues caps issues to maxDisplayedIssues, the point at which the
// issues array is assembled for the tool response.
func truncateIssues(issues []Issue) []Issue {
	if len(issues) > maxDisplayedIssues {
		return issues[:maxDisplayedIssues]
	}
	return issues
}

// classifyFactor derives a coarse issue type from a detector's factor
// string; detectors prefix their factors distinctly enough to tell apart.
func classifyFactor(factor string) string {
	switch {
	case containsAny(factor, "provider key", "JWT-shaped", "high-entropy"):
		return "secret"
	case containsAny(factor, "dangerous API"):
		return "dangerous_api"
	case containsAny(factor, "environment file", "DEBUG=", "SSL=", "NODE_ENV=", "LOG_LEVEL"):
		return "env_hygiene"
	case containsAny(factor, "known vulnerability"):
		return "dependency"
	default:
		return "finding"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// mapUpstream applies spec §4.6's result-mapping rules: risk-level
// collapsing, confidence clamping, and upgradePrompt=false.
func mapUpstream(resp upstream.AnalyzeResponse) Result {
	issues := make([]Issue, 0, len(resp.Issues))
	for _, i := range resp.Issues {
		issues = append(issues, Issue{Type: i.Type, Severity: i.Severity, Message: i.Message, Pattern: i.Pattern, Line: i.Line})
	}

	return Result{
		RiskLevel:       mapRiskLevel(resp.RiskLevel),
		Confidence:      clamp01(resp.Confidence),
		Issues:          truncateIssues(issues),
		ExecutionTimeMS: resp.ExecutionTimeMS,
		UpgradePrompt:   false,
		Recommendations: resp.Recommendations,
	}
}

func mapRiskLevel(upstreamLevel string) RiskLevel {
	switch upstreamLevel {
	case "safe", "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high", "critical":
		return RiskHigh
	default:
		return RiskNone
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
