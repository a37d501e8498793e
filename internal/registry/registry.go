// Package registry provides a typed, overridable configuration registry.
//
// A Registry holds named Namespaces; each Namespace holds Settings declared
// once at start-up with a default, an optional environment variable and a
// declared Kind. Values can be read and written by name, temporarily
// overridden in strictly nested scopes, and captured into immutable
// Snapshots that serialize to JSON or YAML and load back.
//
// The registry is explicitly constructed and handed to the components that
// need it; there is no package-level instance.
package registry

import (
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry is the process-wide collection of namespaces.
type Registry struct {
	logger    *zap.Logger
	lookupEnv func(string) (string, bool)

	mu         sync.RWMutex
	namespaces map[string]*Namespace
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration and load events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLookupEnv overrides the environment lookup, primarily for tests.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(r *Registry) {
		if lookup != nil {
			r.lookupEnv = lookup
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:     zap.NewNop(),
		lookupEnv:  os.LookupEnv,
		namespaces: make(map[string]*Namespace),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewNamespace creates a namespace. Names must be non-empty and must not
// contain a dot, which separates namespace and setting in qualified names.
func (r *Registry) NewNamespace(name string) (*Namespace, error) {
	if name == "" || strings.Contains(name, ".") {
		return nil, newError(KindUnsupportedType, name, "", "invalid namespace name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.namespaces[name]; exists {
		return nil, newError(KindDuplicateNamespace, name, "", "")
	}
	ns := &Namespace{
		name:    name,
		logger:  r.logger,
		lookup:  r.lookupEnv,
		entries: make(map[string]*entry),
	}
	r.namespaces[name] = ns
	return ns, nil
}

// MustNamespace creates a namespace and panics on error.
func (r *Registry) MustNamespace(name string) *Namespace {
	ns, err := r.NewNamespace(name)
	if err != nil {
		panic(err)
	}
	return ns
}

// Namespace returns an existing namespace.
func (r *Registry) Namespace(name string) (*Namespace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ns, ok := r.namespaces[name]
	if !ok {
		return nil, newError(KindUnknownNamespace, name, "", "")
	}
	return ns, nil
}

// Namespaces returns all namespace names sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Get reads a setting by qualified name ("namespace.setting").
func (r *Registry) Get(qualified string) (any, error) {
	ns, name, err := r.resolve(qualified)
	if err != nil {
		return nil, err
	}
	return ns.Get(name)
}

// Set writes a setting by qualified name.
func (r *Registry) Set(qualified string, value any) error {
	ns, name, err := r.resolve(qualified)
	if err != nil {
		return err
	}
	return ns.Set(name, value)
}

// Provenance reports provenance by qualified name.
func (r *Registry) Provenance(qualified string) (Provenance, error) {
	ns, name, err := r.resolve(qualified)
	if err != nil {
		return Provenance{}, err
	}
	return ns.Provenance(name)
}

func (r *Registry) resolve(qualified string) (*Namespace, string, error) {
	nsName, name, ok := SplitName(qualified)
	if !ok {
		return nil, "", newError(KindUnknownSetting, "", qualified, "expected namespace.setting")
	}
	ns, err := r.Namespace(nsName)
	if err != nil {
		return nil, "", err
	}
	return ns, name, nil
}

// Save captures every namespace. All namespaces are read-locked in name
// order for the duration, so a concurrent Load is seen whole or not at all.
func (r *Registry) Save() Snapshot {
	namespaces := r.sorted()
	for _, ns := range namespaces {
		ns.mu.RLock()
	}
	defer func() {
		for _, ns := range namespaces {
			ns.mu.RUnlock()
		}
	}()

	values := make(map[string]any)
	for _, ns := range namespaces {
		ns.saveLocked(values)
	}
	return Snapshot{values: values}
}

// Load applies a snapshot across namespaces. All touched namespaces are
// locked in name order and every entry is validated before any is written.
func (r *Registry) Load(s Snapshot, opts ...LoadOption) error {
	o := newLoadOptions(opts)

	var errs error
	groups := make(map[string]map[string]any)
	for qualified, value := range s.values {
		nsName, name, ok := SplitName(qualified)
		if !ok {
			if !o.ignoreUnknown {
				errs = appendError(errs, newError(KindUnknownSetting, "", qualified, "expected namespace.setting"))
			}
			continue
		}
		if _, err := r.Namespace(nsName); err != nil {
			if !o.ignoreUnknown {
				errs = appendError(errs, &ConfigError{Kind: KindUnknownSetting, Namespace: nsName, Setting: name, Err: err})
			}
			continue
		}
		if groups[nsName] == nil {
			groups[nsName] = make(map[string]any)
		}
		groups[nsName][name] = value
	}

	var touched []*Namespace
	for _, ns := range r.sorted() {
		if _, ok := groups[ns.name]; ok {
			touched = append(touched, ns)
		}
	}
	for _, ns := range touched {
		ns.mu.Lock()
	}
	defer func() {
		for _, ns := range touched {
			ns.mu.Unlock()
		}
	}()

	plans := make([][]assignment, len(touched))
	for i, ns := range touched {
		plan, err := ns.planLoadLocked(groups[ns.name], s.decoded, o)
		errs = appendError(errs, err)
		plans[i] = plan
	}
	if errs != nil {
		return errs
	}

	applied := 0
	for i, ns := range touched {
		ns.applyLocked(plans[i])
		applied += len(plans[i])
	}
	r.logger.Info("snapshot loaded",
		zap.Int("namespaces", len(touched)),
		zap.Int("applied", applied),
	)
	return nil
}

func (r *Registry) sorted() []*Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Namespace, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		result = append(result, ns)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].name < result[j].name
	})
	return result
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	ignoreUnknown bool
}

// IgnoreUnknown skips snapshot entries that name no registered setting
// instead of failing. Useful for snapshots written by a different version.
func IgnoreUnknown() LoadOption {
	return func(o *loadOptions) {
		o.ignoreUnknown = true
	}
}

func newLoadOptions(opts []LoadOption) loadOptions {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func appendError(errs, err error) error {
	return multierr.Append(errs, err)
}

// QualifiedName joins a namespace and setting name.
func QualifiedName(namespace, name string) string {
	return namespace + "." + name
}

// SplitName splits a qualified name at its first dot.
func SplitName(qualified string) (namespace, name string, ok bool) {
	namespace, name, ok = strings.Cut(qualified, ".")
	if !ok || namespace == "" || name == "" {
		return "", "", false
	}
	return namespace, name, true
}
