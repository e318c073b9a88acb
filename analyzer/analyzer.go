// Package analyzer implements the Local Analyzer Facade: a uniform,
// pure-function surface over pluggable detectors (spec §4.8). The facade
// owns all I/O; detectors never touch the filesystem or the clock.
package analyzer

import "sort"

// Severity is a detector or facade-level finding severity, ordered
// low < medium < high < critical.
type Severity string

const (
	// SeverityNone is the zero value: no detector reported a finding.
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityNone: -1, SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// maxSeverity returns the greater of a and b by the low<medium<high<critical
// ordering; an unrecognized severity ranks below low.
func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// Metadata is the only recognized optional input field a detector may
// consult beyond file content and path: the set of changed line numbers for
// diff-aware scanning.
type Metadata struct {
	// ChangedLines is an ordered set of 1-based line numbers. When
	// non-empty, detectors must restrict their scans to these lines only.
	ChangedLines []int
}

// Input is the detector contract's input: full file content, optional path,
// optional diff metadata.
type Input struct {
	Content  string
	FilePath string
	Metadata Metadata
}

// Output is the detector contract's output.
type Output struct {
	Score           float64
	Factors         []string
	Recommendations []string
	Severity        Severity
}

// Detector is the only surface crossed by plug-ins. Implementations must be
// pure for a given input: no I/O, no clock reads (spec §4.8, §9).
type Detector interface {
	Name() string
	Analyze(in Input) Output
}

// Facade sequences a fixed, ordered set of detectors and merges their
// outputs per spec §4.8's merge rule.
type Facade struct {
	detectors []Detector
}

// NewFacade constructs a Facade over detectors, run in the given order.
func NewFacade(detectors ...Detector) *Facade {
	return &Facade{detectors: append([]Detector(nil), detectors...)}
}

// Result is the facade's merged output across every detector.
type Result struct {
	Severity        Severity
	Score           float64
	Factors         []string
	Recommendations []string
}

// Analyze runs every detector over in and merges results: severity is the
// maximum detector severity, score is the maximum detector score, and
// factors/recommendations are concatenated in detector order, deduplicated
// by string identity.
func (f *Facade) Analyze(in Input) Result {
	result := Result{Severity: SeverityNone}

	seenFactors := map[string]bool{}
	seenRecs := map[string]bool{}

	for _, d := range f.detectors {
		out := d.Analyze(in)
		if out.Score > result.Score {
			result.Score = out.Score
		}
		if out.Severity != "" {
			result.Severity = maxSeverity(result.Severity, out.Severity)
		}
		for _, factor := range out.Factors {
			if !seenFactors[factor] {
				seenFactors[factor] = true
				result.Factors = append(result.Factors, factor)
			}
		}
		for _, rec := range out.Recommendations {
			if !seenRecs[rec] {
				seenRecs[rec] = true
				result.Recommendations = append(result.Recommendations, rec)
			}
		}
	}

	return result
}

// inChangedLines reports whether lineNo is in metadata's changed-line set,
// or true if the set is empty (meaning "scan everything").
func inChangedLines(lineNo int, changed []int) bool {
	if len(changed) == 0 {
		return true
	}
	idx := sort.SearchInts(changed, lineNo)
	return idx < len(changed) && changed[idx] == lineNo
}
