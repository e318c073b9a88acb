// Package flags implements the feature-flag snapshot the Analysis Router
// consults for its "ml-detection" kill switch (spec §4.6, §9: "feature
// flags are a copy-on-write snapshot refreshed on a timer").
package flags

import (
	"sync/atomic"
)

// Snapshot is an immutable view of every known flag's explicit-false state.
// A flag absent from the map is not "explicitly false" (spec §4.6 step 2).
type Snapshot map[string]bool

// Source holds the current flag snapshot behind an atomic pointer so readers
// never block writers and vice versa (copy-on-write).
type Source struct {
	current atomic.Pointer[Snapshot]
}

// NewSource constructs a Source seeded with initial (nil is treated as
// empty: no flag explicitly false).
func NewSource(initial Snapshot) *Source {
	s := &Source{}
	if initial == nil {
		initial = Snapshot{}
	}
	snap := initial
	s.current.Store(&snap)
	return s
}

// IsExplicitlyFalse implements router.FlagSource.
func (s *Source) IsExplicitlyFalse(name string) bool {
	snap := s.current.Load()
	if snap == nil {
		return false
	}
	v, ok := (*snap)[name]
	return ok && !v
}

// Replace atomically swaps in a new snapshot, read by every subsequent
// IsExplicitlyFalse call. Safe to call from a refresh timer goroutine
// concurrently with readers.
func (s *Source) Replace(next Snapshot) {
	if next == nil {
		next = Snapshot{}
	}
	snap := next
	s.current.Store(&snap)
}

// Get returns the current snapshot's value for name and whether it was
// present, for diagnostics.
func (s *Source) Get(name string) (value bool, ok bool) {
	snap := s.current.Load()
	if snap == nil {
		return false, false
	}
	v, present := (*snap)[name]
	return v, present
}
