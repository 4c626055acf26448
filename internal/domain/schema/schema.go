// Package schema declares the record collections of the clinic store and the
// additive migration history that produces them.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyMode says who assigns a collection's primary key
type KeyMode string

const (
	// KeyAuto keys are assigned by the store (monotonic integers)
	KeyAuto KeyMode = "auto"

	// KeyCaller keys are supplied by the writer
	KeyCaller KeyMode = "caller"
)

// Index is a secondary lookup declaration. Fields with more than one entry
// form a compound index such as [name+phone].
type Index struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
	Unique bool     `json:"unique"`
}

// Collection declares one group of same-shape records
type Collection struct {
	Name    string  `json:"name"`
	KeyPath string  `json:"key_path"`
	KeyMode KeyMode `json:"key_mode"`
	Indexes []Index `json:"indexes"`
}

// IsAuto reports whether the store assigns keys for this collection
func (c Collection) IsAuto() bool {
	return c.KeyMode == KeyAuto
}

// UniqueIndexes returns the unique declarations of the collection
func (c Collection) UniqueIndexes() []Index {
	var out []Index
	for _, idx := range c.Indexes {
		if idx.Unique {
			out = append(out, idx)
		}
	}
	return out
}

// Rewriter lets a touch-up visit every document of a collection and replace
// the ones it changes. fn returns changed=false to leave a document untouched.
type Rewriter interface {
	Rewrite(ctx context.Context, collection string, fn func(key string, doc map[string]interface{}) (changed bool, err error)) (int, error)
}

// TouchUp is a non-destructive data fix applied by a migration. It must be
// idempotent: running it on already-migrated data changes nothing.
type TouchUp func(ctx context.Context, rw Rewriter) error

// Migration is one additive version step
type Migration struct {
	Version     int
	Description string
	Add         []Collection
	AddIndexes  map[string][]Index
	TouchUp     TouchUp
}

// Schema is the cumulative set of collections at a version
type Schema struct {
	Version     int
	Collections map[string]Collection
}

// Collection looks up a declared collection
func (s *Schema) Collection(name string) (Collection, bool) {
	c, ok := s.Collections[name]
	return c, ok
}

// Names returns the declared collection names in sorted order
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for n := range s.Collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry holds an ordered migration history
type Registry struct {
	migrations []Migration
}

// NewRegistry builds a registry and validates the history
func NewRegistry(migrations ...Migration) (*Registry, error) {
	r := &Registry{migrations: migrations}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Migrations returns the history in version order
func (r *Registry) Migrations() []Migration {
	return r.migrations
}

// Pending returns the migrations above version from
func (r *Registry) Pending(from int) []Migration {
	var out []Migration
	for _, m := range r.migrations {
		if m.Version > from {
			out = append(out, m)
		}
	}
	return out
}

// CurrentVersion returns the highest declared version
func (r *Registry) CurrentVersion() int {
	if len(r.migrations) == 0 {
		return 0
	}
	return r.migrations[len(r.migrations)-1].Version
}

// Current returns the cumulative schema at the latest version
func (r *Registry) Current() *Schema {
	s, _ := r.At(r.CurrentVersion())
	return s
}

// At returns the cumulative schema as of version v
func (r *Registry) At(v int) (*Schema, error) {
	s := &Schema{Collections: map[string]Collection{}}
	for _, m := range r.migrations {
		if m.Version > v {
			break
		}
		if err := apply(s, m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Validate rejects histories that are not strictly increasing or that would
// redefine, remove or re-key an existing collection.
func (r *Registry) Validate() error {
	s := &Schema{Collections: map[string]Collection{}}
	prev := 0
	for _, m := range r.migrations {
		if m.Version <= prev {
			return fmt.Errorf("migration version %d does not increase past %d", m.Version, prev)
		}
		prev = m.Version
		if err := apply(s, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(s *Schema, m Migration) error {
	for _, c := range m.Add {
		if err := validateCollection(c); err != nil {
			return fmt.Errorf("v%d: %w", m.Version, err)
		}
		if _, exists := s.Collections[c.Name]; exists {
			return fmt.Errorf("v%d: collection %q already declared; primary keys are immutable", m.Version, c.Name)
		}
		c.Indexes = append([]Index(nil), c.Indexes...)
		s.Collections[c.Name] = c
	}

	names := make([]string, 0, len(m.AddIndexes))
	for n := range m.AddIndexes {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		c, ok := s.Collections[name]
		if !ok {
			return fmt.Errorf("v%d: index added to unknown collection %q", m.Version, name)
		}
		for _, idx := range m.AddIndexes[name] {
			if idx.Name == "" || len(idx.Fields) == 0 {
				return fmt.Errorf("v%d: %s: index needs a name and fields", m.Version, name)
			}
			for _, existing := range c.Indexes {
				if existing.Name == idx.Name {
					return fmt.Errorf("v%d: %s: index %q already declared", m.Version, name, idx.Name)
				}
			}
			c.Indexes = append(c.Indexes, idx)
		}
		s.Collections[name] = c
	}

	s.Version = m.Version
	return nil
}

func validateCollection(c Collection) error {
	if c.Name == "" || strings.ContainsAny(c.Name, " .\"'") {
		return fmt.Errorf("invalid collection name %q", c.Name)
	}
	if c.KeyPath == "" {
		return fmt.Errorf("collection %q has no key path", c.Name)
	}
	if c.KeyMode != KeyAuto && c.KeyMode != KeyCaller {
		return fmt.Errorf("collection %q has unknown key mode %q", c.Name, c.KeyMode)
	}
	seen := map[string]bool{}
	for _, idx := range c.Indexes {
		if idx.Name == "" || len(idx.Fields) == 0 {
			return fmt.Errorf("collection %q: index needs a name and fields", c.Name)
		}
		if seen[idx.Name] {
			return fmt.Errorf("collection %q: duplicate index %q", c.Name, idx.Name)
		}
		seen[idx.Name] = true
	}
	return nil
}

// IndexName builds the conventional index name for a field list: "name+phone"
func IndexName(fields ...string) string {
	return strings.Join(fields, "+")
}

// Describe renders the schema as JSON for diagnostics output
func (s *Schema) Describe() json.RawMessage {
	out := make([]Collection, 0, len(s.Collections))
	for _, n := range s.Names() {
		out = append(out, s.Collections[n])
	}
	b, _ := json.Marshal(map[string]interface{}{"version": s.Version, "collections": out})
	return b
}
