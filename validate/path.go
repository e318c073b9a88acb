package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/snapback-ai/coprocessor/telemetry"
)

// PathViolation is a distinct, testable rejection reason recorded by the
// Path Validator and reported to telemetry (spec §4.5: "Every rejection is
// reported to the telemetry sink with a coarse reason tag").
type PathViolation string

const (
	ViolationEmpty            PathViolation = "empty_path"
	ViolationNulByte          PathViolation = "nul_byte"
	ViolationEncodedTraversal PathViolation = "encoded_traversal"
	ViolationTraversalSegment PathViolation = "path_traversal"
	ViolationWindowsPrefix    PathViolation = "windows_prefix"
	ViolationOutsideRoot      PathViolation = "outside_root"
	ViolationParentMissing    PathViolation = "parent_missing"
)

// PathError is raised by ValidatePath. It never carries the full candidate
// path — only a truncated sample — so that callers cannot leak filesystem
// layout to an untrusted caller (spec §4.5, §7).
type PathError struct {
	Violation PathViolation
	// Sample is the candidate path truncated to 100 bytes, for telemetry
	// only. The public error message never includes it.
	Sample string
}

func (e *PathError) Error() string {
	return "invalid path"
}

// encodedTraversalTokens are the URL-encoded traversal sequences spec §4.5
// requires rejecting outright, before any decoding is attempted.
var encodedTraversalTokens = []string{
	"%2e%2e%2f", "%2e%2e/", "..%2f", "%252e", "%252f", "%2e%2e%5c", "..%5c",
}

// ValidatePath resolves candidatePath relative to workspaceRoot and returns
// the real absolute path if and only if it exists inside workspaceRoot
// after following all symlinks. Every rejection path returns a *PathError
// and never a path, satisfying spec §8's "never both" property.
func ValidatePath(candidatePath, workspaceRoot string) (string, error) {
	if strings.TrimSpace(candidatePath) == "" {
		return "", violation(ViolationEmpty, candidatePath)
	}
	if strings.ContainsRune(candidatePath, 0) {
		return "", violation(ViolationNulByte, candidatePath)
	}

	lower := strings.ToLower(candidatePath)
	for _, tok := range encodedTraversalTokens {
		if strings.Contains(lower, tok) {
			return "", violation(ViolationEncodedTraversal, candidatePath)
		}
	}

	if hasWindowsPrefix(candidatePath) {
		return "", violation(ViolationWindowsPrefix, candidatePath)
	}

	if hasTraversalSegment(candidatePath) {
		return "", violation(ViolationTraversalSegment, candidatePath)
	}

	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", violation(ViolationOutsideRoot, candidatePath)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", violation(ViolationOutsideRoot, candidatePath)
	}

	joined := filepath.Join(root, candidatePath)

	parent := filepath.Dir(joined)
	resolvedParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", violation(ViolationParentMissing, candidatePath)
		}
		return "", violation(ViolationOutsideRoot, candidatePath)
	}

	resolved := filepath.Join(resolvedParent, filepath.Base(joined))
	if real, err := filepath.EvalSymlinks(resolved); err == nil {
		resolved = real
	}

	if !withinRoot(resolved, root) {
		return "", violation(ViolationOutsideRoot, candidatePath)
	}

	return resolved, nil
}

// hasTraversalSegment reports whether any '/'-or-'\'-separated segment of p
// equals exactly "..". This is segment-equality, not substring matching, so
// filenames like "config..json" are accepted (spec §4.5, §8).
func hasTraversalSegment(p string) bool {
	normalized := strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// hasWindowsPrefix rejects UNC paths and drive-letter prefixes. Checked
// regardless of host OS: a coprocessor running on Linux must still refuse
// an input that looks like a Windows absolute path, since the caller may be
// confused about which host it's targeting.
func hasWindowsPrefix(p string) bool {
	if strings.HasPrefix(p, `\\`) {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			return true
		}
	}
	return false
}

// withinRoot reports whether resolved is root itself or strictly nested
// under it, using a separator-bounded prefix check so "/workspace-evil" is
// never mistaken for a child of "/workspace".
func withinRoot(resolved, root string) bool {
	if resolved == root {
		return true
	}
	sep := string(os.PathSeparator)
	if runtime.GOOS == "windows" {
		resolved = strings.ToLower(resolved)
		root = strings.ToLower(root)
	}
	return strings.HasPrefix(resolved, strings.TrimSuffix(root, sep)+sep)
}

func violation(v PathViolation, candidate string) error {
	sample := candidate
	if len(sample) > 100 {
		sample = sample[:100]
	}
	return &PathError{Violation: v, Sample: sample}
}

// ValidatePathTelemetry wraps ValidatePath and reports every rejection to
// sink with a coarse reason tag and the truncated path sample (spec §4.5:
// "Every rejection is reported to the telemetry sink..."). sink may be nil,
// in which case this is identical to calling ValidatePath directly.
func ValidatePathTelemetry(ctx context.Context, candidatePath, workspaceRoot string, sink telemetry.Sink) (string, error) {
	resolved, err := ValidatePath(candidatePath, workspaceRoot)
	if err != nil && sink != nil {
		if pe, ok := IsPathError(err); ok {
			sink.Emit(ctx, telemetry.Event{
				Name: "path_validation_failed",
				Fields: map[string]any{
					"reason": string(pe.Violation),
					"sample": pe.Sample,
				},
			})
		}
	}
	return resolved, err
}

// IsPathError reports whether err is a *PathError and returns it.
func IsPathError(err error) (*PathError, bool) {
	var pe *PathError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
