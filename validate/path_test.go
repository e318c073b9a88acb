package validate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/snapback-ai/coprocessor/telemetry"
)

func TestValidatePathAcceptsDotDotFilename(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "config..json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := ValidatePath("config..json", root)
	if err != nil {
		t.Fatalf("expected config..json to be accepted, got %v", err)
	}
	if !strings.HasSuffix(resolved, "config..json") {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}

func TestValidatePathRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath("../x", root)
	if err == nil {
		t.Fatalf("expected ../x to be rejected")
	}
	pe, ok := IsPathError(err)
	if !ok || pe.Violation != ViolationTraversalSegment {
		t.Fatalf("expected traversal segment violation, got %+v", pe)
	}
}

func TestValidatePathRejectsNulByte(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath("foo\x00bar", root)
	if err == nil {
		t.Fatalf("expected NUL byte path to be rejected")
	}
	pe, ok := IsPathError(err)
	if !ok || pe.Violation != ViolationNulByte {
		t.Fatalf("expected nul byte violation, got %+v", pe)
	}
}

func TestValidatePathRejectsEncodedTraversal(t *testing.T) {
	root := t.TempDir()
	cases := []string{"%2e%2e%2fetc", "..%2fetc", "%2e%2e/etc", "..%5cetc"}
	for _, c := range cases {
		if _, err := ValidatePath(c, root); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestValidatePathRejectsWindowsPrefixes(t *testing.T) {
	root := t.TempDir()
	cases := []string{`\\server\share\file`, `C:\Windows\System32`}
	for _, c := range cases {
		if _, err := ValidatePath(c, root); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestValidatePathRejectsEmpty(t *testing.T) {
	root := t.TempDir()
	if _, err := ValidatePath("   ", root); err == nil {
		t.Fatalf("expected whitespace-only path to be rejected")
	}
}

func TestValidatePathRejectsOutsideRootViaSymlink(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := ValidatePath("escape/secret.txt", root)
	if err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
}

func TestValidatePathAcceptsNestedExistingFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a", "b", "c.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := ValidatePath("a/b/c.txt", root)
	if err != nil {
		t.Fatalf("expected nested file to be accepted, got %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if !strings.HasPrefix(resolved, realRoot) {
		t.Fatalf("resolved path %s not under root %s", resolved, realRoot)
	}
}

func TestValidatePathRejectsMissingParent(t *testing.T) {
	root := t.TempDir()
	if _, err := ValidatePath("nope/file.txt", root); err == nil {
		t.Fatalf("expected missing parent directory to be rejected")
	}
}

type capturingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *capturingSink) Emit(ctx context.Context, event telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestValidatePathTelemetryReportsRejection(t *testing.T) {
	root := t.TempDir()
	sink := &capturingSink{}

	_, err := ValidatePathTelemetry(context.Background(), "../etc/passwd", root, sink)
	if err == nil {
		t.Fatalf("expected traversal to be rejected")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly 1 telemetry event, got %d", len(sink.events))
	}
	if sink.events[0].Name != "path_validation_failed" {
		t.Fatalf("unexpected event name: %s", sink.events[0].Name)
	}
	if sink.events[0].Fields["reason"] != string(ViolationTraversalSegment) {
		t.Fatalf("unexpected reason field: %v", sink.events[0].Fields["reason"])
	}
}

func TestValidatePathTelemetrySilentOnSuccess(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "ok.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sink := &capturingSink{}

	if _, err := ValidatePathTelemetry(context.Background(), "ok.txt", root, sink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no telemetry events on success, got %d", len(sink.events))
	}
}
