package analyzer

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Advisory is one known vulnerability record in the offline fixture.
type Advisory struct {
	Package          string `yaml:"package"`
	VulnerableRanges string `yaml:"vulnerable_ranges"`
	CVSS             float64 `yaml:"cvss"`
	Summary          string  `yaml:"summary"`
}

// VulnerabilityDB is the offline advisory fixture the dependency hygiene
// detector and the dependency-change analyzer both consult, keyed by
// package name (spec §4.8: "consults an offline vulnerability database
// (explicit fixture path)").
type VulnerabilityDB struct {
	byPackage map[string][]Advisory
}

// LoadVulnerabilityDB reads a YAML fixture of the shape:
//
//	advisories:
//	  - package: left-pad
//	    vulnerable_ranges: "<1.3.0"
//	    cvss: 9.1
//	    summary: "..."
func LoadVulnerabilityDB(path string) (*VulnerabilityDB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseVulnerabilityDB(data)
}

// ParseVulnerabilityDB parses fixture bytes directly; exported so tests and
// embedded fixtures can skip the filesystem.
func ParseVulnerabilityDB(data []byte) (*VulnerabilityDB, error) {
	var doc struct {
		Advisories []Advisory `yaml:"advisories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	db := &VulnerabilityDB{byPackage: make(map[string][]Advisory)}
	for _, a := range doc.Advisories {
		db.byPackage[a.Package] = append(db.byPackage[a.Package], a)
	}
	return db, nil
}

// Lookup returns every known advisory for pkg.
func (db *VulnerabilityDB) Lookup(pkg string) []Advisory {
	if db == nil {
		return nil
	}
	return db.byPackage[pkg]
}

// CVSSSeverity buckets a CVSS score per spec §4.8's bands:
// >=9.0 critical, >=7.0 high, >=4.0 medium, else low.
func CVSSSeverity(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
