package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateIsDeterministicAndDedups(t *testing.T) {
	s := NewStore(0)
	files := []File{
		{Path: "b.txt", Content: []byte("hello")},
		{Path: "a.txt", Content: []byte("world")},
	}

	first, err := s.Create(files, Options{Description: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reordered := []File{
		{Path: "a.txt", Content: []byte("world")},
		{Path: "b.txt", Content: []byte("hello")},
	}
	second, err := s.Create(reordered, Options{Description: "second, should be ignored"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected identical file sets to produce the same id, got %s vs %s", first.ID, second.ID)
	}
	if second.Description != "first" {
		t.Fatalf("expected dedup to return the existing record, got description %q", second.Description)
	}
	if len(s.List()) != 1 {
		t.Fatalf("expected a single stored snapshot after dedup, got %d", len(s.List()))
	}
}

func TestCreateSortsFilesByPath(t *testing.T) {
	s := NewStore(0)
	snap, err := s.Create([]File{
		{Path: "z.txt", Content: []byte("1")},
		{Path: "a.txt", Content: []byte("2")},
	}, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if snap.Files[0].Path != "a.txt" || snap.Files[1].Path != "z.txt" {
		t.Fatalf("expected files sorted by path, got %+v", snap.Files)
	}
}

func TestListDescendingTimestampOrder(t *testing.T) {
	s := NewStore(0)
	first, _ := s.Create([]File{{Path: "1.txt", Content: []byte("1")}}, Options{})
	second, _ := s.Create([]File{{Path: "2.txt", Content: []byte("2")}}, Options{})

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected descending creation order")
	}
}

func TestGetUnknownID(t *testing.T) {
	s := NewStore(0)
	if _, ok := s.Get("nonexistent"); ok {
		t.Fatalf("expected no snapshot for unknown id")
	}
}

func TestRestoreMetadataOnly(t *testing.T) {
	s := NewStore(0)
	snap, _ := s.Create([]File{{Path: "a.txt", Content: []byte("x")}}, Options{})

	result, err := s.Restore(snap.ID, "")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !result.Success || len(result.RestoredFiles) != 1 {
		t.Fatalf("expected metadata-only restore to report the file set, got %+v", result)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(0)
	snap, _ := s.Create([]File{
		{Path: "nested/a.txt", Content: []byte("hello")},
		{Path: "b.txt", Content: []byte("world")},
	}, Options{})

	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatalf("pre-create nested dir: %v", err)
	}

	result, err := s.Restore(snap.ID, dir)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected successful restore, errors: %v", result.Errors)
	}
	if len(result.RestoredFiles) != 2 {
		t.Fatalf("expected 2 restored files, got %d", len(result.RestoredFiles))
	}

	content, err := os.ReadFile(filepath.Join(dir, "nested", "a.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(content) != "hello" {
		t.Fatalf("unexpected restored content: %s", content)
	}
}

func TestRestorePartialFailureOnMissingParent(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(0)
	snap, _ := s.Create([]File{
		{Path: "exists.txt", Content: []byte("ok")},
		{Path: "missing-dir/child.txt", Content: []byte("never written")},
	}, Options{})

	result, err := s.Restore(snap.ID, dir)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.Success {
		t.Fatalf("expected partial failure when an intermediate directory is missing")
	}
	if len(result.RestoredFiles) != 1 || len(result.Errors) != 1 {
		t.Fatalf("expected 1 success and 1 error, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dir, "exists.txt")); err != nil {
		t.Fatalf("expected the already-written file to survive: %v", err)
	}
}

func TestRestoreRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(0)
	snap, _ := s.Create([]File{{Path: "../../etc/passwd", Content: []byte("x")}}, Options{})

	result, err := s.Restore(snap.ID, dir)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.Success || len(result.Errors) != 1 {
		t.Fatalf("expected traversal attempt to be rejected, got %+v", result)
	}
}
