package consensus

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// SourceSet is an immutable, versioned snapshot of the sources expected for an instrument.
type SourceSet struct {
	Version uint64
	Sources []string // sorted, deduplicated
}

// Contains reports whether source is part of the set.
func (s SourceSet) Contains(source string) bool {
	i := sort.SearchStrings(s.Sources, source)
	return i < len(s.Sources) && s.Sources[i] == source
}

// Registry hands out source snapshots. Updates publish a new version; a round
// that already holds a snapshot keeps seeing the old one.
type Registry struct {
	mu   sync.Mutex // serialises writers only
	sets map[string]*atomic.Pointer[SourceSet]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sets: make(map[string]*atomic.Pointer[SourceSet]),
	}
}

// Set replaces the expected sources for an instrument and returns the new snapshot.
// Setting an identical list does not bump the version.
func (r *Registry) Set(instrument string, sources []string) (SourceSet, error) {
	normalized := normalize(sources)
	if len(normalized) == 0 {
		return SourceSet{}, fmt.Errorf("%w: %s", ErrNoSources, instrument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ptr, ok := r.sets[instrument]
	if !ok {
		ptr = &atomic.Pointer[SourceSet]{}
		r.sets[instrument] = ptr
	}
	cur := ptr.Load()
	if cur != nil && equal(cur.Sources, normalized) {
		return *cur, nil
	}

	next := &SourceSet{Version: 1, Sources: normalized}
	if cur != nil {
		next.Version = cur.Version + 1
	}
	ptr.Store(next)
	return *next, nil
}

// Snapshot returns the current source set for an instrument.
func (r *Registry) Snapshot(instrument string) (SourceSet, error) {
	r.mu.Lock()
	ptr, ok := r.sets[instrument]
	r.mu.Unlock()
	if !ok {
		return SourceSet{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	set := ptr.Load()
	// Sources is never mutated after Store, sharing the slice is safe.
	return *set, nil
}

func normalize(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
