package analyzer

import (
	"encoding/json"
)

// DependencyHygieneDetector consults an offline vulnerability database and
// flags known-vulnerable packages declared in package.json. It only
// applies to files named exactly "package.json" (spec §4.8).
type DependencyHygieneDetector struct {
	DB *VulnerabilityDB
}

func (DependencyHygieneDetector) Name() string { return "dependency_hygiene" }

func (d DependencyHygieneDetector) Analyze(in Input) Output {
	if baseName(in.FilePath) != "package.json" {
		return Output{}
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(in.Content), &pkg); err != nil {
		return Output{}
	}

	var factors, recs []string
	severity := Severity("")
	var score float64

	check := func(name string) {
		for _, adv := range d.DB.Lookup(name) {
			sev := CVSSSeverity(adv.CVSS)
			factors = append(factors, "known vulnerability in "+name+": "+adv.Summary)
			recs = append(recs, "Upgrade "+name+" out of the range "+adv.VulnerableRanges+".")
			severity = maxSeverity(severity, sev)
			if s := cvssToScore(adv.CVSS); s > score {
				score = s
			}
		}
	}

	for name := range pkg.Dependencies {
		check(name)
	}
	for name := range pkg.DevDependencies {
		check(name)
	}

	return Output{Score: score, Factors: dedup(factors), Recommendations: dedup(recs), Severity: severity}
}

func cvssToScore(cvss float64) float64 {
	return cvss / 10.0
}
