package analyzer

import "regexp"

// dangerousPatterns match direct/indirect dynamic-execution primitives
// across the languages this coprocessor is likely to see: eval, the
// Function constructor, subprocess spawn/exec, and in-VM execution helpers.
var dangerousPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	rec     string
}{
	{
		name:    "eval",
		pattern: regexp.MustCompile(`\beval\s*\(`),
		rec:     "Avoid eval; parse and handle known input shapes explicitly.",
	},
	{
		name:    "function_constructor",
		pattern: regexp.MustCompile(`new\s+Function\s*\(`),
		rec:     "Avoid the Function constructor; it executes arbitrary code from a string.",
	},
	{
		name:    "child_process_exec",
		pattern: regexp.MustCompile(`\b(exec|execSync|spawn|spawnSync|child_process)\b`),
		rec:     "Avoid unvalidated subprocess execution; allow-list commands and arguments.",
	},
	{
		name:    "os_system",
		pattern: regexp.MustCompile(`\bos\.system\s*\(|subprocess\.(Popen|call|run)\s*\(`),
		rec:     "Avoid shelling out with unsanitized input; use parameterized process APIs.",
	},
	{
		name:    "vm_run",
		pattern: regexp.MustCompile(`\bvm\.(runInNewContext|runInThisContext)\s*\(`),
		rec:     "Avoid running dynamic code in a VM sandbox without strict input control.",
	},
}

// DangerousAPIsDetector flags direct or indirect dynamic-code-execution
// primitives (spec §4.8).
type DangerousAPIsDetector struct{}

func (DangerousAPIsDetector) Name() string { return "dangerous_apis" }

func (DangerousAPIsDetector) Analyze(in Input) Output {
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

		for _, dp := range dangerousPatterns {
			if dp.pattern.MatchString(line) {
				factors = append(factors, "dangerous API: "+dp.name)
				recs = append(recs, dp.rec)
				severity = maxSeverity(severity, SeverityHigh)
				if score < 0.8 {
					score = 0.8
				}
			}
		}
	}

	return Output{Score: score, Factors: dedup(factors), Recommendations: dedup(recs), Severity: severity}
}
