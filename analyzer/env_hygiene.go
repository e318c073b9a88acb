package analyzer

import (
	"regexp"
	"strings"
)

// envAllowlist lists left-hand keys the .env hygiene detector never flags,
// per spec §4.8.
var envAllowlist = map[string]bool{
	"NODE_ENV": true, "PORT": true, "HOST": true, "LOG_LEVEL": true,
}

var envAssignment = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)$`)

// EnvHygieneDetector flags risky-looking .env assignments. It only applies
// to files named .env or .env.<suffix>, excluding .env.example and
// .env.sample (spec §4.8).
type EnvHygieneDetector struct{}

func (EnvHygieneDetector) Name() string { return "env_hygiene" }

func (EnvHygieneDetector) Analyze(in Input) Output {
	if !appliesToEnvFile(in.FilePath) {
		return Output{}
	}

	var factors, recs []string
	severity := Severity("")
	var score float64

	for i, line := range lines(in.Content) {
		lineNo := i + 1
		if !inChangedLines(lineNo, in.Metadata.ChangedLines) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		m := envAssignment.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		key, value := m[1], strings.TrimSpace(m[2])

		switch {
		case key == "DEBUG" && strings.EqualFold(value, "true"):
			factors = append(factors, "DEBUG=true in environment file")
			recs = append(recs, "Disable DEBUG in any committed environment file.")
			severity = maxSeverity(severity, SeverityMedium)
			score = maxFloat(score, 0.5)
		case key == "SSL" && strings.EqualFold(value, "false"):
			factors = append(factors, "SSL=false in environment file")
			recs = append(recs, "Do not disable SSL verification via a committed environment file.")
			severity = maxSeverity(severity, SeverityHigh)
			score = maxFloat(score, 0.7)
		case key == "NODE_ENV" && strings.EqualFold(value, "development"):
			factors = append(factors, "NODE_ENV=development committed")
			recs = append(recs, "Do not commit a development NODE_ENV value.")
			severity = maxSeverity(severity, SeverityLow)
			score = maxFloat(score, 0.3)
		case key == "LOG_LEVEL" && isVerboseLogLevel(value):
			factors = append(factors, "verbose LOG_LEVEL committed")
			recs = append(recs, "Avoid committing verbose log levels that may leak sensitive data.")
			severity = maxSeverity(severity, SeverityLow)
			score = maxFloat(score, 0.3)
		case envAllowlist[key]:
			// explicitly allowed, never flagged
		case isEmptyOrPlaceholder(value) || isVariableReference(value):
			// not a live secret
		default:
			factors = append(factors, "non-empty key-like assignment: "+key)
			recs = append(recs, "Review "+key+" for committed secrets; move live values out of the environment file.")
			severity = maxSeverity(severity, SeverityMedium)
			score = maxFloat(score, 0.55)
		}
	}

	return Output{Score: score, Factors: dedup(factors), Recommendations: dedup(recs), Severity: severity}
}

func appliesToEnvFile(filePath string) bool {
	name := baseName(filePath)
	if name == ".env.example" || name == ".env.sample" {
		return false
	}
	return name == ".env" || strings.HasPrefix(name, ".env.")
}

func isEmptyOrPlaceholder(value string) bool {
	if value == "" {
		return true
	}
	return isPlaceholder(value)
}

func isVariableReference(value string) bool {
	return strings.HasPrefix(value, "$") || strings.HasPrefix(value, "${")
}

func isVerboseLogLevel(value string) bool {
	switch strings.ToLower(value) {
	case "debug", "trace", "verbose":
		return true
	}
	return false
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}
