package template

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// snapshot is an immutable set of templates indexed by ID.
type snapshot struct {
	templates map[string]Template
	checksum  string
}

// Registry is a read-optimized, thread-safe template store. Reads are
// lock-free; Replace swaps the whole snapshot.
type Registry struct {
	snap      atomic.Pointer[snapshot]
	defaultID string
}

// NewRegistry creates a Registry holding the built-in template plus tmpls.
// A loaded template with the built-in ID replaces it.
func NewRegistry(tmpls []Template, defaultID string) *Registry {
	if defaultID == "" {
		defaultID = DefaultID
	}
	r := &Registry{defaultID: defaultID}
	r.Replace(tmpls)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(tmpls []Template) {
	s := &snapshot{templates: make(map[string]Template, len(tmpls)+1)}
	builtin := Default()
	s.templates[builtin.ID] = builtin

	var checksumParts []string
	for _, t := range tmpls {
		s.templates[t.ID] = t
		checksumParts = append(checksumParts, t.Checksum)
	}

	sort.Strings(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

// Get returns the template with the given ID.
func (r *Registry) Get(id string) (Template, bool) {
	t, ok := r.snap.Load().templates[id]
	return t, ok
}

// Default returns the configured default template, falling back to the
// built-in one when the configured ID is unknown.
func (r *Registry) Default() Template {
	if t, ok := r.Get(r.defaultID); ok {
		return t
	}
	return Default()
}

// All returns every template sorted by ID.
func (r *Registry) All() []Template {
	s := r.snap.Load()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of templates, including the built-in one.
func (r *Registry) Len() int {
	return len(r.snap.Load().templates)
}

// Checksum returns the combined checksum of all loaded templates.
func (r *Registry) Checksum() string {
	return r.snap.Load().checksum
}
