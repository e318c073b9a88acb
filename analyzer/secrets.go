package analyzer

import (
	"math"
	"regexp"
	"strings"
)

// providerPatterns are concrete, named provider key shapes. JWT detection
// (three dot-separated base64url segments) is handled separately since it
// isn't a fixed-prefix pattern.
var providerPatterns = map[string]*regexp.Regexp{
	"aws_access_key_id": regexp.MustCompile(`AKIA[A-Z0-9]{16}`),
	"github_token":      regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),
	"slack_token":       regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),
	"stripe_key":        regexp.MustCompile(`sk_(live|test)_[A-Za-z0-9]{16,}`),
	"google_api_key":    regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
}

var jwtPattern = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)

// placeholderTokens are values SecretsDetector must not flag: templated or
// documentation placeholders rather than live credentials.
var placeholderTokens = []string{
	"xxxx", "your_key_here", "your_api_key", "changeme", "example",
	"placeholder", "<your", "insert_key", "todo",
}

// assignmentPattern finds `key = "value"`-shaped tokens so entropy scanning
// only considers the assigned value, not surrounding code.
var assignmentPattern = regexp.MustCompile(`[A-Za-z0-9_\-\.]{16,}`)

// SecretsDetector flags high-entropy tokens and provider-specific key
// shapes. Entropy threshold: >= 2.5 Shannon bits/char with length >= 16,
// per spec §4.8.
type SecretsDetector struct{}

func (SecretsDetector) Name() string { return "secrets" }

func (SecretsDetector) Analyze(in Input) Output {
	var factors, recs []string
	severity := Severity("")
	var score float64

	for i, line := range lines(in.Content) {
		lineNo := i + 1
		if !inChangedLines(lineNo, in.Metadata.ChangedLines) {
			continue
		}
		if isCommentOnlyLine(line, in.FilePath) {
			continue
		}
		if isPlaceholder(line) {
			continue
		}

		for name, pattern := range providerPatterns {
			if pattern.MatchString(line) {
				factors = append(factors, "provider key detected: "+name)
				recs = append(recs, "Remove the "+name+" credential and rotate it immediately.")
				severity = maxSeverity(severity, SeverityHigh)
				score = math.Max(score, 0.95)
			}
		}
		if jwtPattern.MatchString(line) {
			factors = append(factors, "JWT-shaped token detected")
			recs = append(recs, "Remove embedded JWTs from source; issue tokens at runtime instead.")
			severity = maxSeverity(severity, SeverityHigh)
			score = math.Max(score, 0.9)
		}

		for _, tok := range assignmentPattern.FindAllString(line, -1) {
			if len(tok) < 16 || isPlaceholderToken(tok) {
				continue
			}
			if entropy := shannonEntropy(tok); entropy >= 2.5 {
				factors = append(factors, "high-entropy token detected")
				recs = append(recs, "Move high-entropy values into a secret manager or environment variable.")
				severity = maxSeverity(severity, SeverityMedium)
				score = math.Max(score, 0.6)
			}
		}
	}

	return Output{Score: score, Factors: dedup(factors), Recommendations: dedup(recs), Severity: severity}
}

func isPlaceholder(line string) bool {
	lower := strings.ToLower(line)
	for _, p := range placeholderTokens {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isPlaceholderToken(tok string) bool {
	lower := strings.ToLower(tok)
	for _, p := range placeholderTokens {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// shannonEntropy computes Shannon entropy in bits per character.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := map[rune]int{}
	for _, r := range s {
		counts[r]++
	}
	var entropy float64
	n := float64(len(s))
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
