// Package snapshot implements the Snapshot Store (spec §4.9): content-
// addressed, deduplicated file-set snapshots with atomic, path-validated
// restore.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/snapback-ai/coprocessor/validate"
)

// digestVersion is the fixed, versioned identifier for the content digest
// function, resolving spec §9's open question (SPEC_FULL.md §C): SHA-256
// over the raw file bytes.
const digestVersion = "sha256/v1"

// File is one input file to Create: a path and its raw content.
type File struct {
	Path    string
	Content []byte
}

// Entry is one file's record within a stored Snapshot.
type Entry struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Snapshot is an immutable, content-addressed file-set record.
type Snapshot struct {
	ID          string
	CreatedAt   time.Time
	Description string
	Protected   bool
	Files       []Entry
}

// Options configures Create's metadata fields.
type Options struct {
	Description string
	Protected   bool
}

// RestoreResult is Restore's output (spec §4.9).
type RestoreResult struct {
	Success       bool
	Errors        []string
	RestoredFiles []string
}

// Store holds snapshots and their content-addressed blob storage in memory.
// Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	snapshots map[string]*Snapshot
	order     []string // insertion order, for list()'s descending-timestamp view
	blobs     map[string][]byte
	maxList   int
}

// NewStore constructs an empty Store. maxList caps List's output (spec
// default: 500); zero or negative falls back to the default.
func NewStore(maxList int) *Store {
	if maxList <= 0 {
		maxList = 500
	}
	return &Store{
		snapshots: make(map[string]*Snapshot),
		blobs:     make(map[string][]byte),
		maxList:   maxList,
	}
}

// contentDigest computes the fixed, versioned content digest for one file's
// bytes (spec §9's resolved open question).
func contentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return digestVersion + ":" + hex.EncodeToString(sum[:])
}

// stableHash computes the snapshot id: entries are sorted by path
// (byte-lexicographic), each entry is RFC 8785 JCS-canonicalized before
// joining (grounded on davidahmann-gait's JCS usage, SPEC_FULL.md §B), and
// the joined string is hashed with the same fixed digest function.
func stableHash(entries []Entry) (string, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	joined := make([]byte, 0, 64*len(sorted))
	for i, e := range sorted {
		raw, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("marshal entry %s: %w", e.Path, err)
		}
		canonical, err := jcs.Transform(raw)
		if err != nil {
			return "", fmt.Errorf("canonicalize entry %s: %w", e.Path, err)
		}
		if i > 0 {
			joined = append(joined, '|')
		}
		joined = append(joined, canonical...)
	}

	sum := sha256.Sum256(joined)
	return digestVersion + ":" + hex.EncodeToString(sum[:]), nil
}

// Create computes the snapshot id from files, returning the existing
// record if one with the same id already exists (dedup, spec §4.9);
// otherwise it writes file contents to content-addressed storage and
// records a new Snapshot. Concurrent duplicate creates return the same id
// without corrupting storage.
func (s *Store) Create(files []File, opts Options) (*Snapshot, error) {
	entries := make([]Entry, 0, len(files))
	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		digest := contentDigest(f.Content)
		entries = append(entries, Entry{Path: f.Path, Digest: digest, Size: int64(len(f.Content))})
		contents[digest] = f.Content
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	id, err := stableHash(entries)
	if err != nil {
		return nil, fmt.Errorf("compute snapshot id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[id]; ok {
		return existing, nil
	}

	for digest, content := range contents {
		if _, ok := s.blobs[digest]; !ok {
			s.blobs[digest] = content
		}
	}

	snap := &Snapshot{
		ID:          id,
		CreatedAt:   time.Now(),
		Description: opts.Description,
		Protected:   opts.Protected,
		Files:       entries,
	}
	s.snapshots[id] = snap
	s.order = append(s.order, id)
	return snap, nil
}

// List returns snapshots in descending creation-timestamp order, capped at
// the store's maxList.
func (s *Store) List() []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Snapshot, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.snapshots[s.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if len(out) > s.maxList {
		out = out[:s.maxList]
	}
	return out
}

// Get returns the snapshot with id, or false if none exists.
func (s *Store) Get(id string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	return snap, ok
}

// Restore reconstructs a snapshot's files. When targetPath is empty, this is
// metadata-only and performs no filesystem mutation. When targetPath is
// given, each file is written atomically (write-temp, rename) after its
// destination is checked through the path validator against targetPath as
// root. A per-file failure is recorded in Errors; already-written files are
// not rolled back (documented caveat, spec §4.9).
func (s *Store) Restore(id string, targetPath string) (*RestoreResult, error) {
	snap, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}

	if targetPath == "" {
		files := make([]string, 0, len(snap.Files))
		for _, e := range snap.Files {
			files = append(files, e.Path)
		}
		return &RestoreResult{Success: true, RestoredFiles: files}, nil
	}

	result := &RestoreResult{Success: true}

	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return nil, fmt.Errorf("create target path: %w", err)
	}

	s.mu.Lock()
	blobs := make(map[string][]byte, len(snap.Files))
	for _, e := range snap.Files {
		blobs[e.Digest] = s.blobs[e.Digest]
	}
	s.mu.Unlock()

	for _, e := range snap.Files {
		// Only the entry path (not a pre-joined absolute path) is passed to
		// the validator: it joins against targetPath itself, resolving
		// symlinks and rejecting traversal. A missing intermediate
		// directory is a per-file restore error, not auto-created, so a
		// caller-supplied snapshot can't be used to create arbitrary new
		// directory structure outside what already exists under targetPath.
		realDest, err := validate.ValidatePath(e.Path, targetPath)
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: invalid destination path", e.Path))
			continue
		}

		content, ok := blobs[e.Digest]
		if !ok {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: content missing from storage", e.Path))
			continue
		}

		if err := writeAtomic(realDest, content); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", e.Path, err))
			continue
		}

		result.RestoredFiles = append(result.RestoredFiles, e.Path)
	}

	return result, nil
}

// writeAtomic writes content to a temp file beside dest, then renames it
// into place, so a reader never observes a partially written file.
func writeAtomic(dest string, content []byte) error {
	dir := filepath.Dir(dest)
	tmp := filepath.Join(dir, "."+filepath.Base(dest)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
