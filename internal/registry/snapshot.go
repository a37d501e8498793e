package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable point-in-time copy of setting values keyed by
// qualified name. Values are deep-copied in and out, so later writes to the
// registry never change a snapshot.
type Snapshot struct {
	values map[string]any

	// decoded marks snapshots produced by a text codec; numeric values in
	// them may have lost their Go type and are matched leniently on Load.
	decoded bool
}

// NewSnapshot builds a snapshot from a flat qualified-name mapping.
func NewSnapshot(values map[string]any) Snapshot {
	return Snapshot{values: cloneMap(values)}
}

// Get returns the value stored under a qualified name.
func (s Snapshot) Get(qualified string) (any, bool) {
	v, ok := s.values[qualified]
	return cloneValue(v), ok
}

// Len returns the number of entries.
func (s Snapshot) Len() int {
	return len(s.values)
}

// Names returns the qualified names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Values returns a copy of the flat mapping.
func (s Snapshot) Values() map[string]any {
	if s.values == nil {
		return map[string]any{}
	}
	return cloneMap(s.values)
}

// Namespace returns the subset of entries belonging to one namespace.
func (s Snapshot) Namespace(name string) Snapshot {
	prefix := name + "."
	out := Snapshot{values: make(map[string]any), decoded: s.decoded}
	for qualified, v := range s.values {
		if strings.HasPrefix(qualified, prefix) {
			out.values[qualified] = cloneValue(v)
		}
	}
	return out
}

// Change is one difference between two snapshots. Before or After is absent
// when the entry exists on one side only.
type Change struct {
	Name      string `json:"name" yaml:"name"`
	Before    any    `json:"before,omitempty" yaml:"before,omitempty"`
	After     any    `json:"after,omitempty" yaml:"after,omitempty"`
	HasBefore bool   `json:"hasBefore" yaml:"has_before"`
	HasAfter  bool   `json:"hasAfter" yaml:"has_after"`
}

// Diff lists the entries that differ from s to other, sorted by name.
func (s Snapshot) Diff(other Snapshot) []Change {
	seen := make(map[string]struct{}, len(s.values)+len(other.values))
	for name := range s.values {
		seen[name] = struct{}{}
	}
	for name := range other.values {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []Change
	for _, name := range names {
		before, hasBefore := s.values[name]
		after, hasAfter := other.values[name]
		if hasBefore && hasAfter && equalValues(before, after) {
			continue
		}
		changes = append(changes, Change{
			Name:      name,
			Before:    cloneValue(before),
			After:     cloneValue(after),
			HasBefore: hasBefore,
			HasAfter:  hasAfter,
		})
	}
	return changes
}

// MarshalJSON encodes the snapshot as a flat JSON object.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// UnmarshalJSON decodes a flat JSON object. Numbers are kept as json.Number
// so that integers beyond float64 precision load exactly.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	s.values, s.decoded = values, true
	return nil
}

// MarshalYAML encodes the snapshot as a flat YAML mapping.
func (s Snapshot) MarshalYAML() (any, error) {
	return s.Values(), nil
}

// UnmarshalYAML decodes a flat YAML mapping.
func (s *Snapshot) UnmarshalYAML(node *yaml.Node) error {
	var values map[string]any
	if err := node.Decode(&values); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if values == nil {
		values = make(map[string]any)
	}
	s.values, s.decoded = values, true
	return nil
}

// ReadSnapshotFile reads a snapshot written as JSON (.json) or YAML
// (.yaml, .yml).
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read file: %w", err)
	}

	var s Snapshot
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	default:
		return Snapshot{}, fmt.Errorf("unsupported snapshot format %q", filepath.Ext(path))
	}
	if err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
