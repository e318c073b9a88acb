package analyzer

// ChangeKind classifies one dependency-map difference.
type ChangeKind string

const (
	ChangeAdded         ChangeKind = "added"
	ChangeRemoved       ChangeKind = "removed"
	ChangeVersionBumped ChangeKind = "version_changed"
)

// DependencyChange is one reported difference between two dependency maps.
type DependencyChange struct {
	Package     string
	Kind        ChangeKind
	FromVersion string
	ToVersion   string
	Severity    Severity
	Advisory    string
}

// DependencyChangeAnalyzer compares two dependency maps (before/after) and
// reports adds, removes, and version changes, bucketing severity by the
// same CVSS band as the dependency hygiene detector when a known advisory
// applies (spec §4.8).
type DependencyChangeAnalyzer struct {
	DB *VulnerabilityDB
}

// Compare diffs before and after, both maps of package name to version (or
// arbitrary metadata — only presence and, where a string, version value are
// consulted).
func (a DependencyChangeAnalyzer) Compare(before, after map[string]any) []DependencyChange {
	var changes []DependencyChange

	for name, beforeVal := range before {
		afterVal, stillPresent := after[name]
		if !stillPresent {
			changes = append(changes, DependencyChange{
				Package:  name,
				Kind:     ChangeRemoved,
				Severity: SeverityLow,
			})
			continue
		}
		fromVersion := versionOf(beforeVal)
		toVersion := versionOf(afterVal)
		if fromVersion != toVersion {
			changes = append(changes, a.versionChange(name, fromVersion, toVersion))
		}
	}

	for name, afterVal := range after {
		if _, existed := before[name]; existed {
			continue
		}
		changes = append(changes, a.addedChange(name, versionOf(afterVal)))
	}

	return changes
}

func (a DependencyChangeAnalyzer) versionChange(name, from, to string) DependencyChange {
	c := DependencyChange{Package: name, Kind: ChangeVersionBumped, FromVersion: from, ToVersion: to, Severity: SeverityLow}
	a.applyAdvisory(&c, name)
	return c
}

func (a DependencyChangeAnalyzer) addedChange(name, version string) DependencyChange {
	c := DependencyChange{Package: name, Kind: ChangeAdded, ToVersion: version, Severity: SeverityLow}
	a.applyAdvisory(&c, name)
	return c
}

func (a DependencyChangeAnalyzer) applyAdvisory(c *DependencyChange, name string) {
	for _, adv := range a.DB.Lookup(name) {
		sev := CVSSSeverity(adv.CVSS)
		if severityRank[sev] > severityRank[c.Severity] {
			c.Severity = sev
			c.Advisory = adv.Summary
		}
	}
}

func versionOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["version"].(string); ok {
			return s
		}
	}
	return ""
}
